// Command sparkify loads the song catalogue and listening logs into a
// star schema.
//
//	sparkify run --config configs/sparkify.yaml
//	sparkify schema reset --storage-kind sqlite --dsn file:sparkify.db
//	sparkify validate --config configs/sparkify.yaml
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/config"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "sparkify/internal/storage/all"
)

// Version is set at build time.
var Version = "dev"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "sparkify",
		Short:         "Load song metadata and event logs into the sparkify star schema",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.BoolP("verbose", "v", false, "enable verbose logs")
	pf.String("storage-kind", "", "sink kind: postgres, sqlite or mssql")
	pf.String("dsn", "", "sink DSN; $VARS are expanded")
	pf.Bool("idempotent-facts", false, "add a natural key to songplays and ignore repeated plays")

	// Bind flags to viper; a flag only wins when set on the command line.
	_ = a.v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = a.v.BindPFlag("storage.kind", pf.Lookup("storage-kind"))
	_ = a.v.BindPFlag("storage.dsn", pf.Lookup("dsn"))
	_ = a.v.BindPFlag("runtime.idempotent_facts", pf.Lookup("idempotent-facts"))

	root.AddCommand(a.newRunCmd(), a.newSchemaCmd(), a.newValidateCmd())
	return root
}

// load reads and validates the configuration, printing every issue to
// errOut. Any error-severity issue fails the load.
func (a *app) load(errOut io.Writer) (config.Pipeline, error) {
	p, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Pipeline{}, err
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(errOut, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Pipeline{}, fmt.Errorf("configuration is invalid")
	}
	return p, nil
}

func (a *app) verbose() bool { return a.v.GetBool("verbose") }

// logger returns a stderr logger when verbose, nil otherwise; the pipeline
// treats nil as discard.
func (a *app) logger(errOut io.Writer) *log.Logger {
	if !a.verbose() {
		return nil
	}
	return log.New(errOut, "", log.LstdFlags)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
