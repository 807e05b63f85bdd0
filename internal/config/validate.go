package config

import (
	"fmt"
	"slices"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of ValidatePipeline. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is error-severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p without touching the filesystem or the database.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if p.Job == "" {
		add(SeverityWarning, "job", "empty; metrics will use the default job name")
	}

	if len(p.Source.Order) == 0 {
		add(SeverityError, "source.order", "at least one of %q or %q is required", CategorySong, CategoryLog)
	}
	seen := map[string]bool{}
	for i, c := range p.Source.Order {
		path := fmt.Sprintf("source.order[%d]", i)
		switch {
		case c != CategorySong && c != CategoryLog:
			add(SeverityError, path, "unknown category %q", c)
		case seen[c]:
			add(SeverityError, path, "category %q listed twice", c)
		case p.Source.Root(c) == "":
			add(SeverityError, "source."+c+"_data", "required when %q is in source.order", c)
		}
		seen[c] = true
	}
	if p.Source.Ext == "" {
		add(SeverityError, "source.ext", "required")
	}

	if p.Storage.Kind == "" {
		add(SeverityError, "storage.kind", "required")
	} else if !slices.Contains(StorageKinds, p.Storage.Kind) {
		add(SeverityError, "storage.kind", "unknown kind %q (want one of %v)", p.Storage.Kind, StorageKinds)
	}
	if p.Storage.DSN == "" {
		add(SeverityError, "storage.dsn", "required")
	}

	switch p.Runtime.LookupCacheScope {
	case CacheScopeFile, CacheScopePass:
	default:
		add(SeverityError, "runtime.lookup_cache_scope", "must be %q or %q, got %q", CacheScopeFile, CacheScopePass, p.Runtime.LookupCacheScope)
	}
	if p.Runtime.IdempotentFacts && !p.Runtime.EnsureSchema {
		add(SeverityWarning, "runtime.idempotent_facts", "schema is not created by this run; songplays must already carry the natural key constraint")
	}

	switch p.Metrics.Backend {
	case "", MetricsNone, MetricsDatadog:
	case MetricsPushgateway:
		if p.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "required for the pushgateway backend")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q", p.Metrics.Backend)
	}
	if p.Metrics.FlushEvery < 0 {
		add(SeverityError, "metrics.flush_every", "must not be negative")
	}
	return out
}
