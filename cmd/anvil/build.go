package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/engine"
)

func newBuildCmd(g *globals) *cobra.Command {
	var skipValidate bool
	cmd := &cobra.Command{
		Use:   "build <locator>",
		Short: "Load an app and build its worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := g.newEngine()
			if err != nil {
				return err
			}
			app, err := eng.Open(cmd.Context(), args[0], engine.InitOptions{SkipValidate: skipValidate})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", app.Name(), app.State())
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "load the manifest without validating it")
	return cmd
}
