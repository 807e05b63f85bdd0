// Package metrics is the process-wide metrics facade used by the pipeline.
//
// Core code records through the package-level helpers; the concrete backend
// (Datadog, Pushgateway or none) is chosen once by the CLI with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal           = "sparkify_step_total"
	StepDurationSeconds = "sparkify_step_duration_seconds"
	RowsTotal           = "sparkify_rows_total"
	FilesTotal          = "sparkify_files_total"
	LookupsTotal        = "sparkify_lookups_total"
)

// Label values for LookupsTotal.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupCached = "cached"
)

// Labels are the dimensions attached to one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for
// concurrent use; unknown names are ignored.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush pushes whatever the current backend has buffered.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and observes its duration.
// status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows submitted to table.
func RecordRows(table string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

// RecordFile counts one processed file of the given category ("song" or "log").
func RecordFile(category string) {
	current().IncCounter(FilesTotal, 1, Labels{"category": category})
}

// RecordLookup counts one song lookup by result: LookupHit, LookupMiss or
// LookupCached.
func RecordLookup(result string) {
	current().IncCounter(LookupsTotal, 1, Labels{"result": result})
}
