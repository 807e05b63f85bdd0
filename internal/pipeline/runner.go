package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

// Schema actions for Runner.Schema.
const (
	SchemaCreate = "create"
	SchemaDrop   = "drop"
	SchemaReset  = "reset"
)

// Runner opens the sink described by a config and drives an Engine.
type Runner struct {
	// storage-agnostic factory seam
	NewSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)

	Fs       afero.Fs
	Logger   Logger
	Progress Progress
}

func NewDefaultRunner() *Runner {
	return &Runner{
		NewSink: storage.New,
		Fs:      afero.NewOsFs(),
	}
}

func (r *Runner) open(ctx context.Context, cfg config.Pipeline) (storage.Sink, error) {
	if r.NewSink == nil {
		return nil, fmt.Errorf("runner: NewSink is required")
	}
	return r.NewSink(ctx, storage.Config{
		Kind: cfg.Storage.Kind,
		DSN:  os.ExpandEnv(cfg.Storage.DSN),
	})
}

// Run loads every configured category. The schema is created first when
// runtime.ensure_schema is set.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Summary, error) {
	sink, err := r.open(ctx, cfg)
	if err != nil {
		return Summary{}, err
	}
	defer sink.Close()

	logf := (&Engine{Logger: r.Logger}).logger()
	opts := schema.Options{IdempotentFacts: cfg.Runtime.IdempotentFacts}

	if cfg.Runtime.EnsureSchema {
		ddlStart := time.Now()
		if err := sink.EnsureTables(ctx, schema.Tables(opts)); err != nil {
			metrics.RecordStep("ddl", "error", time.Since(ddlStart))
			return Summary{}, err
		}
		metrics.RecordStep("ddl", "ok", time.Since(ddlStart))
		logf("stage=ddl ok duration=%s", durMS(ddlStart))
	}

	engine := &Engine{
		Sink: sink,
		Fs:   r.Fs,
		Ext:  cfg.Source.Ext,
		Options: Options{
			CacheScope:      cfg.Runtime.LookupCacheScope,
			IdempotentFacts: cfg.Runtime.IdempotentFacts,
		},
		Logger:   r.Logger,
		Progress: r.Progress,
	}
	return engine.Run(ctx, cfg.Source)
}

// Schema creates, drops, or drops then recreates the five tables.
func (r *Runner) Schema(ctx context.Context, cfg config.Pipeline, action string) error {
	switch action {
	case SchemaCreate, SchemaDrop, SchemaReset:
	default:
		return fmt.Errorf("schema: unknown action %q", action)
	}
	tables := schema.Tables(schema.Options{IdempotentFacts: cfg.Runtime.IdempotentFacts})

	sink, err := r.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	logf := (&Engine{Logger: r.Logger}).logger()
	start := time.Now()
	if action == SchemaDrop || action == SchemaReset {
		if err := sink.DropTables(ctx, tables); err != nil {
			return err
		}
	}
	if action == SchemaCreate || action == SchemaReset {
		if err := sink.EnsureTables(ctx, tables); err != nil {
			return err
		}
	}
	logf("stage=schema_%s ok tables=%d duration=%s", action, len(tables), durMS(start))
	return nil
}
