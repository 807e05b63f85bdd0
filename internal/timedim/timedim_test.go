package timedim

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestFromMillis_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ms   int64
		want Attr
	}{
		{
			name: "corpus_sample_sunday",
			ms:   1541903636796,
			want: Attr{StartTime: "2018-11-11T02:33:56.796000", Hour: 2, Day: 11, Week: 45, Month: 11, Year: 2018, Weekday: 6},
		},
		{
			name: "epoch_thursday",
			ms:   0,
			want: Attr{StartTime: "1970-01-01T00:00:00.000000", Hour: 0, Day: 1, Week: 1, Month: 1, Year: 1970, Weekday: 3},
		},
		{
			// 2021-01-01 is a Friday that belongs to ISO week 53 of 2020.
			name: "iso_week_crosses_year",
			ms:   1609459200000,
			want: Attr{StartTime: "2021-01-01T00:00:00.000000", Hour: 0, Day: 1, Week: 53, Month: 1, Year: 2021, Weekday: 4},
		},
		{
			name: "monday_is_zero",
			ms:   1541376000001, // 2018-11-05T00:00:00.001Z
			want: Attr{StartTime: "2018-11-05T00:00:00.001000", Hour: 0, Day: 5, Week: 45, Month: 11, Year: 2018, Weekday: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromMillis(tt.ms)
			if got != tt.want {
				t.Fatalf("FromMillis(%d)=%+v, want %+v", tt.ms, got, tt.want)
			}
		})
	}
}

func TestDecompose_PreservesOrderAndIsDeterministic(t *testing.T) {
	t.Parallel()

	in := []int64{1541903636796, 0, 1541903636796, 1609459200000}
	a := Decompose(in)
	b := Decompose(in)

	if len(a) != len(in) {
		t.Fatalf("len=%d, want %d", len(a), len(in))
	}
	for i := range in {
		if a[i] != FromMillis(in[i]) {
			t.Fatalf("a[%d]=%+v, want %+v", i, a[i], FromMillis(in[i]))
		}
		if a[i] != b[i] {
			t.Fatalf("non-deterministic at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, ms := range []int64{0, 1, 999, 1541903636796, 1543190400000, 1609459200000, 1700000000123, -86400000} {
		want := FromMillis(ms)
		got, err := Parse(want.StartTime)
		if err != nil {
			t.Fatalf("Parse(%q) err=%v", want.StartTime, err)
		}
		if got != want {
			t.Fatalf("round trip ms=%d got=%+v want=%+v", ms, got, want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := Parse("not-a-time"); err == nil {
		t.Fatalf("Parse(invalid) err=nil, want error")
	}
}

func TestMillis_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "int64", in: int64(42), want: 42},
		{name: "int", in: 7, want: 7},
		{name: "json_number", in: json.Number("1541903636796"), want: 1541903636796},
		{name: "json_number_exponent", in: json.Number("1.5e3"), want: 1500},
		{name: "float_integral", in: float64(1541903636796), want: 1541903636796},
		{name: "numeric_string", in: " 1541903636796 ", want: 1541903636796},
		{name: "float_fraction", in: 1.5, wantErr: true},
		{name: "word", in: "yesterday", wantErr: true},
		{name: "null", in: nil, wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Millis(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Millis(%v) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrTypeConversion) {
					t.Fatalf("Millis(%v) err=%v, want ErrTypeConversion", tt.in, err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("Millis(%v)=%d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAttrRow_ColumnOrder(t *testing.T) {
	t.Parallel()

	a := FromMillis(1541903636796)
	row := a.Row()
	want := []any{"2018-11-11T02:33:56.796000", 2, 11, 45, 11, 2018, 6}
	if len(row) != len(want) {
		t.Fatalf("row.len=%d, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("row[%d]=%v, want %v", i, row[i], want[i])
		}
	}
}
