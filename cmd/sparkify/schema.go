package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sparkify/internal/pipeline"
)

func (a *app) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or drop the star schema tables",
	}
	for _, sc := range []struct {
		action, short string
	}{
		{pipeline.SchemaCreate, "Create the five tables if they do not exist"},
		{pipeline.SchemaDrop, "Drop the five tables if they exist, fact table first"},
		{pipeline.SchemaReset, "Drop then recreate the five tables"},
	} {
		action := sc.action
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := a.load(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				r := pipeline.NewDefaultRunner()
				if l := a.logger(cmd.ErrOrStderr()); l != nil {
					r.Logger = l
				}
				if err := r.Schema(cmd.Context(), p, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema %s: ok\n", action)
				return nil
			},
		})
	}
	return cmd
}
