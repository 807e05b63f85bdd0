package pipeline

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sparkify/internal/schema"
)

// Summary totals one run.
type Summary struct {
	SongFiles int
	LogFiles  int
	Bytes     int64
	// Rows counts rows the sink reported as written, per table.
	Rows     map[string]int64
	Lookups  LookupStats
	Duration time.Duration
}

func newSummary() Summary {
	return Summary{Rows: make(map[string]int64)}
}

// summaryTables fixes the print order.
var summaryTables = []string{
	schema.TableSongs,
	schema.TableArtists,
	schema.TableTime,
	schema.TableUsers,
	schema.TableSongplays,
}

// WriteTo prints the summary with grouped thousands.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	p := message.NewPrinter(language.English)
	var total int64
	write := func(format string, a ...any) error {
		n, err := p.Fprintf(w, format, a...)
		total += int64(n)
		return err
	}

	if err := write("files: %d song, %d log (%s read) in %s\n",
		s.SongFiles, s.LogFiles, humanize.Bytes(uint64(s.Bytes)), s.Duration.Truncate(time.Millisecond)); err != nil {
		return total, err
	}
	for _, t := range summaryTables {
		if err := write("rows %-10s %d\n", t+":", s.Rows[t]); err != nil {
			return total, err
		}
	}
	err := write("lookups: %d queried, %d hits, %d misses, %d cached\n",
		s.Lookups.Lookups, s.Lookups.Hits, s.Lookups.Misses, s.Lookups.Cached)
	return total, err
}
