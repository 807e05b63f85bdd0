package main

import (
	"context"
	"log"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
)

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it at exit. A backend that fails to initialize is
// logged and metrics stay disabled; it never fails the run.
func setupMetrics(ctx context.Context, p config.Pipeline, runID string, verbose bool) func() {
	jobName := p.Job
	if jobName == "" {
		jobName = "sparkify"
	}

	switch p.Metrics.Backend {
	case config.MetricsPushgateway:
		b, err := prompush.NewBackend(jobName, p.Metrics.PushgatewayURL, runID)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", p.Metrics.PushgatewayURL, p.Metrics.Backend, jobName)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case config.MetricsDatadog:
		// Datadog buffers and submits every FlushEvery, then once more on Close.
		// The final submit must still go out after an interrupt.
		tags := datadog.ParseTagsCSV(p.Metrics.Tags)
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    jobName,
			RunID:      runID,
			Tags:       tags,
			FlushEvery: p.Metrics.FlushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: backend=%v job_name=%v tags=%v", p.Metrics.Backend, jobName, tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case "", config.MetricsNone:
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", p.Metrics.Backend)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", p.Metrics.Backend)
	}
	return func() {}
}
