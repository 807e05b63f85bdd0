// Package prompush pushes sparkify metrics to a Prometheus Pushgateway.
//
// A batch job has no scrape endpoint, so counters and histograms live in a
// private registry and Flush pushes the whole registry, replacing the
// previous push for the same job and run grouping.
package prompush

import (
	"fmt"
	"strings"

	"sparkify/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend implements metrics.Backend on a Pushgateway.
type Backend struct {
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	files     *prometheus.CounterVec
	lookups   *prometheus.CounterVec
}

// NewBackend targets the Pushgateway at url under job. A non-empty runID
// adds a run grouping label so concurrent runs do not overwrite each other.
func NewBackend(job, url, runID string) (*Backend, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "sparkify"
	}

	b := &Backend{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows submitted per table.",
		}, []string{"table"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Files processed per category.",
		}, []string{"category"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.LookupsTotal,
			Help: "Song lookups by result.",
		}, []string{"result"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(b.steps, b.durations, b.rows, b.files, b.lookups)

	p := push.New(url, job).Gatherer(reg)
	if runID != "" {
		p = p.Grouping("run", runID)
	}
	b.pusher = p
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["table"]).Add(delta)
	case metrics.FilesTotal:
		b.files.WithLabelValues(labels["category"]).Add(delta)
	case metrics.LookupsTotal:
		b.lookups.WithLabelValues(labels["result"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
