// Package git fetches app repositories with the git CLI.
package git

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seantiz/anvil/internal/execx"
)

// Client clones repositories by shelling out to git.
type Client struct {
	bin    string
	runner execx.Runner
	logger *slog.Logger
}

// New returns a Client using the given git binary. An empty bin means "git".
func New(bin string, runner execx.Runner, logger *slog.Logger) *Client {
	if bin == "" {
		bin = "git"
	}
	return &Client{bin: bin, runner: runner, logger: logger}
}

// Clone performs a shallow clone of url into dir. dir must not exist or be empty.
func (c *Client) Clone(ctx context.Context, url, dir string) error {
	cmd := execx.Cmd{
		Name: c.bin,
		Args: []string{"clone", "--depth=1", "--quiet", url, dir},
		Log: func(stream, line string) {
			c.logger.Debug("git output", "stream", stream, "line", line)
		},
	}
	c.logger.Info("cloning repository", "url", url, "dir", dir)
	if err := c.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}
