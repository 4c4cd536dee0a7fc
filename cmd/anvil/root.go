package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/backend/docker"
	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/execx"
	"github.com/seantiz/anvil/internal/manifest"
	"github.com/seantiz/anvil/internal/refconv"
	"github.com/seantiz/anvil/internal/transport"
	"github.com/seantiz/anvil/internal/vcs/git"
)

// globals are the flags shared by every command.
type globals struct {
	confPath string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "anvil",
		Short:         "Load, build and run containerised and web-hosted apps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
	}
	root.PersistentFlags().StringVar(&g.confPath, "conf", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newValidateCmd(g),
		newBuildCmd(g),
		newRunCmd(g),
		newServeCmd(g),
	)
	return root
}

func (g *globals) load() error {
	cfg, err := config.Load(g.confPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	g.cfg = cfg
	g.logger = config.NewLogger(os.Stderr, cfg.Level())
	return nil
}

// newEngine wires the engine from configuration.
func (g *globals) newEngine() (*engine.Engine, error) {
	cfg, logger := g.cfg, g.logger
	runner := execx.ExecRunner{}
	client := transport.NewClient(cfg.HTTPTimeout)

	loader := manifest.NewLoader(manifest.LoaderConfig{
		CachePath:    cfg.CachePath,
		ManifestFile: cfg.ManifestFile,
	}, git.New(cfg.GitBin, runner, logger), client, logger)

	runtime := docker.New(docker.Config{
		Bin:       cfg.DockerBin,
		BuildArgs: cfg.BuildArgs,
		RunArgs:   cfg.RunArgs,
	}, runner, logger)

	opts := []engine.Option{engine.WithHTTPClient(client)}
	if cfg.RefconvCommand != "" {
		conv, err := refconv.NewExecConverter(cfg.RefconvCommand, runner, logger)
		if err != nil {
			return nil, fmt.Errorf("refconv_command: %w", err)
		}
		opts = append(opts, engine.WithConverter(conv))
	}

	return engine.New(engine.Config{
		NoClean:      cfg.NoClean,
		PollInterval: cfg.PollInterval,
	}, loader, runtime, logger, opts...), nil
}
