package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/manifest"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <locator>",
		Short: "Check an app manifest without building it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := g.newEngine()
			if err != nil {
				return err
			}
			app, err := eng.Open(cmd.Context(), args[0], engine.InitOptions{SkipBuild: true})
			if err != nil {
				var verr *manifest.ValidationError
				if errors.As(err, &verr) {
					for _, d := range verr.Defects {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", d.Field, d.Message)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: manifest is valid\n", app.Name())
			return nil
		},
	}
}
