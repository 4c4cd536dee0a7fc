// Package docker implements backend.ContainerRuntime on top of the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/execx"
	"github.com/seantiz/anvil/internal/model"
)

// RuntimeName identifies this runtime in capabilities and logs.
const RuntimeName = "docker"

// Config holds docker CLI settings.
type Config struct {
	// Bin is the docker binary, "docker" when empty.
	Bin string

	// BuildArgs and RunArgs are inserted verbatim after the subcommand's
	// own flags.
	BuildArgs []string
	RunArgs   []string
}

// Runtime runs docker build and docker run through an execx.Runner.
type Runtime struct {
	cfg    Config
	runner execx.Runner
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ backend.ContainerRuntime = (*Runtime)(nil)

// New creates a docker Runtime.
func New(cfg Config, runner execx.Runner, logger *slog.Logger) *Runtime {
	if cfg.Bin == "" {
		cfg.Bin = "docker"
	}
	return &Runtime{cfg: cfg, runner: runner, logger: logger}
}

// Capabilities implements backend.ContainerRuntime.
func (r *Runtime) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: RuntimeName, Interactive: true}
}

// Recipe renders the inline build file for a worker that declares a base
// image: the base, the app mount as working directory, then one RUN line per
// build step.
func Recipe(w model.DockerWorker) string {
	mount := w.MountApp
	if mount == "" {
		mount = model.DefaultMountApp
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\nWORKDIR %s\n\n", w.Base, mount)
	if len(w.Build) > 0 {
		b.WriteString("\n# Build steps\n")
		for i, step := range w.Build {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("RUN " + step)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildArgs returns the docker arguments for spec.
func (r *Runtime) BuildArgs(spec backend.BuildSpec) []string {
	args := []string{"build", "--tag=" + spec.Image}
	args = append(args, r.cfg.BuildArgs...)
	if spec.Recipe != "" {
		return append(args, "-")
	}
	return append(args, "--file="+spec.RecipeFile, spec.ContextDir)
}

// Build implements backend.ContainerRuntime.
func (r *Runtime) Build(ctx context.Context, spec backend.BuildSpec) error {
	if spec.Recipe == "" && spec.RecipeFile == "" {
		return errors.New("build spec has no recipe")
	}

	cmd := execx.Cmd{
		Name: r.cfg.Bin,
		Args: r.BuildArgs(spec),
		Log:  lineWriter(spec.LogWriter),
	}
	if spec.Recipe != "" {
		cmd.Stdin = strings.NewReader(spec.Recipe)
	}

	r.logger.Info("building image", "image", spec.Image, "inline", spec.Recipe != "")
	start := time.Now()
	err := r.runner.Run(ctx, cmd)
	buildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		buildsTotal.WithLabelValues(statusFailed).Inc()
		return fmt.Errorf("docker build failed: %w", err)
	}
	buildsTotal.WithLabelValues(statusSucceeded).Inc()
	return nil
}

// RunArgs returns the docker arguments for spec.
func (r *Runtime) RunArgs(spec backend.RunSpec) []string {
	args := []string{"run", "--rm", "--name=" + spec.Name}
	args = append(args, r.cfg.RunArgs...)
	if spec.Interactive {
		args = append(args, "--interactive", "--tty")
	}
	for _, kv := range spec.Env {
		args = append(args, "--env="+kv)
	}
	for _, v := range spec.Volumes {
		args = append(args, "--volume="+v.Host+":"+v.Container)
	}
	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

// Run implements backend.ContainerRuntime.
func (r *Runtime) Run(ctx context.Context, spec backend.RunSpec) (backend.RunResult, error) {
	cmd := execx.Cmd{
		Name:        r.cfg.Bin,
		Args:        r.RunArgs(spec),
		Interactive: spec.Interactive,
		Log:         lineWriter(spec.LogWriter),
	}

	r.logger.Info("running container", "image", spec.Image, "name", spec.Name)
	activeContainers.Inc()
	start := time.Now()
	err := r.runner.Run(ctx, cmd)
	elapsed := time.Since(start)
	activeContainers.Dec()
	runDuration.Observe(elapsed.Seconds())

	result := backend.RunResult{DurationMS: int(elapsed.Milliseconds())}
	if err != nil {
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.Code
		} else {
			result.ExitCode = -1
		}
		runsTotal.WithLabelValues(statusFailed).Inc()
		return result, fmt.Errorf("docker run failed: %w", err)
	}
	runsTotal.WithLabelValues(statusSucceeded).Inc()
	return result, nil
}

func lineWriter(w func(string)) execx.LogFunc {
	if w == nil {
		return nil
	}
	return func(_, line string) { w(line) }
}
