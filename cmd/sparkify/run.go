package main

import (
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sparkify/internal/pipeline"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load song files, then log files, into the star schema",
		Long: `Discover *.json files under source.song_data and source.log_data and load
them in source.order. Song files fill songs and artists; log files fill time,
users and songplays. The first error aborts the run; files already loaded
stay committed.`,
		Args: cobra.NoArgs,
		RunE: a.runRun,
	}

	f := cmd.Flags()
	f.String("song-data", "", "root of the song JSON tree")
	f.String("log-data", "", "root of the event log tree")
	f.StringSlice("order", nil, "category order, e.g. song,log")
	f.String("cache-scope", "", "song lookup cache scope: file or pass")
	f.Bool("no-ensure-schema", false, "do not create missing tables before loading")
	f.String("metrics-backend", "", "metrics backend: none, datadog or pushgateway")
	f.String("pushgateway-url", "", "Pushgateway base URL")

	_ = a.v.BindPFlag("source.song_data", f.Lookup("song-data"))
	_ = a.v.BindPFlag("source.log_data", f.Lookup("log-data"))
	_ = a.v.BindPFlag("source.order", f.Lookup("order"))
	_ = a.v.BindPFlag("runtime.lookup_cache_scope", f.Lookup("cache-scope"))
	_ = a.v.BindPFlag("metrics.backend", f.Lookup("metrics-backend"))
	_ = a.v.BindPFlag("metrics.pushgateway_url", f.Lookup("pushgateway-url"))
	return cmd
}

func (a *app) runRun(cmd *cobra.Command, _ []string) error {
	errOut := cmd.ErrOrStderr()
	p, err := a.load(errOut)
	if err != nil {
		return err
	}
	if noEnsure, _ := cmd.Flags().GetBool("no-ensure-schema"); noEnsure {
		p.Runtime.EnsureSchema = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	log.Printf("run: id=%s job=%s storage=%s order=%v", runID, p.Job, p.Storage.Kind, p.Source.Order)

	closeMetrics := setupMetrics(ctx, p, runID, a.verbose())
	defer closeMetrics()

	r := pipeline.NewDefaultRunner()
	if l := a.logger(errOut); l != nil {
		r.Logger = l
	}
	r.Progress = progressFor(cmd.OutOrStdout())

	sum, err := r.Run(ctx, p)
	if err == nil || sum.SongFiles+sum.LogFiles > 0 {
		if _, werr := sum.WriteTo(cmd.OutOrStdout()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// progressFor draws a bar on terminals and prints lines elsewhere.
func progressFor(w io.Writer) pipeline.Progress {
	if f, ok := w.(*os.File); ok {
		return pipeline.NewProgress(f)
	}
	return &pipeline.LineProgress{W: w}
}
