// Package timedim decomposes event timestamps into the calendar attributes
// stored in the time dimension.
package timedim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// StartTimeLayout renders start_time with microsecond precision and no zone.
// The value is always UTC.
const StartTimeLayout = "2006-01-02T15:04:05.000000"

// ErrTypeConversion is returned when a timestamp value is not an integer
// millisecond epoch.
var ErrTypeConversion = errors.New("type conversion")

// Attr is one row of the time dimension.
//
// Column order (see Row) is part of the load contract:
// start_time, hour, day, week, month, year, weekday.
type Attr struct {
	StartTime string
	Hour      int
	Day       int
	Week      int // ISO-8601 week number
	Month     int
	Year      int
	Weekday   int // Monday=0 .. Sunday=6
}

// Row returns the positional row for a bulk insert.
func (a Attr) Row() []any {
	return []any{a.StartTime, a.Hour, a.Day, a.Week, a.Month, a.Year, a.Weekday}
}

// FromMillis decomposes a single millisecond epoch timestamp.
// The epoch is treated as UTC; no local offset is applied.
func FromMillis(ms int64) Attr {
	return fromTime(time.UnixMilli(ms).UTC())
}

// Decompose maps each timestamp to its Attr, preserving input order.
func Decompose(ms []int64) []Attr {
	out := make([]Attr, len(ms))
	for i, v := range ms {
		out[i] = FromMillis(v)
	}
	return out
}

// Parse re-derives the attributes from a formatted start_time.
func Parse(startTime string) (Attr, error) {
	t, err := time.ParseInLocation(StartTimeLayout, strings.TrimSpace(startTime), time.UTC)
	if err != nil {
		return Attr{}, fmt.Errorf("timedim: parse start_time %q: %w", startTime, err)
	}
	return fromTime(t), nil
}

func fromTime(t time.Time) Attr {
	_, week := t.ISOWeek()
	return Attr{
		StartTime: t.Format(StartTimeLayout),
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// Millis converts a decoded JSON value into a millisecond epoch.
//
// Accepted: integer Go types, json.Number and float64 without a fractional
// part, and strings holding a base-10 integer. Anything else wraps
// ErrTypeConversion.
func Millis(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case json.Number:
		return parseIntString(string(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: ts=%v is not an integer", ErrTypeConversion, t)
		}
		return int64(t), nil
	case string:
		return parseIntString(t)
	case nil:
		return 0, fmt.Errorf("%w: ts is null", ErrTypeConversion)
	default:
		return 0, fmt.Errorf("%w: ts has type %T", ErrTypeConversion, v)
	}
}

func parseIntString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// JSON numbers such as 1.541903636796e12 are still integral.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: ts=%q is not an integer", ErrTypeConversion, s)
	}
	return int64(f), nil
}
