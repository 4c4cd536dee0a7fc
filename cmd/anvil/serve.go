package main

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/api"
	"github.com/seantiz/anvil/internal/store"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve staging slots web workers deliver outputs into",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = g.cfg.ListenAddr
			}
			st, err := store.NewFSStore(g.cfg.StagingDir)
			if err != nil {
				return err
			}
			defer st.Close()

			g.logger.Info("anvil: starting staging server",
				"listen_addr", addr,
				"staging_dir", g.cfg.StagingDir,
				"public_url", g.cfg.PublicURL,
			)
			return api.NewServer(addr, g.cfg.PublicURL, st, nil, g.logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default from configuration)")
	return cmd
}
