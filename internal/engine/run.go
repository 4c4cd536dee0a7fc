package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/anvil/internal/apperr"
	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/backend/web"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/resource"
	"github.com/seantiz/anvil/internal/tmpl"
)

// incomingDir holds remote inputs inside the working directory before they
// are provisioned.
const incomingDir = ".incoming"

// DefaultShell is started by RunOptions.Shell when no binary is named.
const DefaultShell = "/bin/sh"

// RunOptions are the caller-supplied parameters of one run.
type RunOptions struct {
	// RunID identifies the run on the event broker. Generated when empty.
	// Events reach only subscribers that exist when they are published, so
	// subscribe to an id from Engine.NewRunID before calling Run.
	RunID string

	// OnRedirect, when set, receives the worker URL of a web run before
	// the outputs are polled.
	OnRedirect func(url string)

	// Inputs and Outputs are positional, one per manifest slot. A nil
	// entry omits an optional slot.
	Inputs  []*resource.Resource
	Outputs []*resource.Resource

	// Config is merged over the manifest's config defaults.
	Config map[string]any

	// Shell replaces the worker command with an interactive shell.
	Shell string

	// NoClean keeps the working directory for inspection.
	NoClean bool

	// NoWait returns from a web run as soon as the user has been
	// redirected; Result.Watch tracks the outputs.
	NoWait bool

	// PollInterval overrides the engine's web poll interval.
	PollInterval time.Duration

	// ReturnURL is exposed to templates as finished.url.
	ReturnURL string
}

// Result describes a finished (or, for NoWait web runs, started) run.
type Result struct {
	RunID    string
	Manifest model.Manifest
	Config   map[string]any
	Inputs   []*resource.Resource
	Outputs  []*resource.Resource

	// WorkerURL is the page the user was sent to, for web workers.
	WorkerURL string

	// Watch is set for NoWait web runs.
	Watch *web.Watch
}

// session is the working state of one run.
type session struct {
	runID   string
	tempDir string
	tpl     *tmpl.Template
}

// Run executes the app once.
func (a *App) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	if a.State() == model.StateUnloaded {
		return nil, apperr.Errorf(apperr.KindRun, a.Name(), "", "app is not loaded")
	}

	m := a.Manifest()
	s := &session{runID: opts.RunID}
	if s.runID == "" {
		s.runID = a.eng.newID()
	}
	logger := a.logger.With("run_id", s.runID)

	worker := "unknown"
	if m.Worker != nil {
		worker = m.Worker.Kind()
	}
	ctx, span := a.eng.tracer.Start(ctx, "app.run", trace.WithAttributes(
		attribute.String("app.name", a.Name()),
		attribute.String("run.id", s.runID),
		attribute.String("app.worker", worker),
	))
	start := time.Now()
	handedOff := false
	defer func() {
		endSpan(span, err)
		runDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
		status := statusSucceeded
		if err != nil {
			status = statusFailed
		}
		runsTotal.WithLabelValues(worker, status).Inc()
		if !handedOff {
			a.eng.broker.Close(s.runID)
		}
	}()

	if err := a.checkSlots("inputs", m.Inputs, opts.Inputs); err != nil {
		return nil, err
	}
	if err := a.checkSlots("outputs", m.Outputs, opts.Outputs); err != nil {
		return nil, err
	}

	cfg, err := a.ResolveConfig(opts.Config)
	if err != nil {
		return nil, err
	}

	logger.Info("running app", "worker", worker, "config", cfg, "inputs", len(opts.Inputs), "outputs", len(opts.Outputs))

	res = &Result{
		RunID:    s.runID,
		Manifest: m,
		Config:   cfg,
		Inputs:   opts.Inputs,
		Outputs:  opts.Outputs,
	}

	switch w := m.Worker.(type) {
	case model.DockerWorker:
		if a.State() != model.StateBuilt {
			return nil, apperr.Errorf(apperr.KindRun, a.Name(), "", "app is not built")
		}
		err = a.runDocker(ctx, w, s, cfg, opts)
	case model.WebWorker:
		handedOff, err = a.runWeb(ctx, w, s, cfg, opts, res)
	default:
		err = apperr.E(apperr.KindRun, a.Name(), "", apperr.ErrUnknownWorker)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("run finished")
	return res, nil
}

// checkSlots matches caller resources to manifest slots: required slots need
// a resource, optional ones may be nil, and extra resources are rejected.
func (a *App) checkSlots(branch string, specs []model.FileSpec, given []*resource.Resource) error {
	if len(given) > len(specs) {
		return apperr.Errorf(apperr.KindRun, a.Name(), "slots", "%d %s given but the manifest declares %d", len(given), branch, len(specs))
	}
	for i, spec := range specs {
		var r *resource.Resource
		if i < len(given) {
			r = given[i]
		}
		if r == nil && spec.Required {
			return apperr.Errorf(apperr.KindRun, a.Name(), "slots", "missing required %s file at offset #%d", branch, i)
		}
	}
	return nil
}

// slotFilename is the file name of a slot inside the working directory.
func slotFilename(spec model.FileSpec, kind string, i int) string {
	if spec.Filename != "" {
		return spec.Filename
	}
	return fmt.Sprintf("%s-%d", kind, i)
}

func at(list []*resource.Resource, i int) *resource.Resource {
	if i < len(list) {
		return list[i]
	}
	return nil
}

// templateContext builds the template view of the run.
func (a *App) templateContext(m model.Manifest, cfg map[string]any, opts RunOptions, withURL bool) tmpl.Context {
	mount := model.MountDataPath(m.Worker)
	describe := func(specs []model.FileSpec, given []*resource.Resource, kind string) []map[string]any {
		out := make([]map[string]any, len(specs))
		for i, spec := range specs {
			r := at(given, i)
			p := ""
			if r != nil {
				p = path.Join(mount, slotFilename(spec, kind, i))
			}
			var u *string
			if withURL && r != nil && r.PathURL != "" {
				u = &r.PathURL
			}
			out[i] = spec.Descriptor(p, u)
		}
		return out
	}
	return tmpl.Context{
		Manifest:  m.Raw(),
		Config:    cfg,
		Inputs:    describe(m.Inputs, opts.Inputs, "input"),
		Outputs:   describe(m.Outputs, opts.Outputs, "output"),
		ReturnURL: opts.ReturnURL,
	}
}

func (a *App) runDocker(ctx context.Context, w model.DockerWorker, s *session, cfg map[string]any, opts RunOptions) error {
	m := a.Manifest()

	tempDir, err := os.MkdirTemp(a.eng.cfg.WorkDir, "anvil-"+a.Name()+"-")
	if err != nil {
		return apperr.E(apperr.KindProvision, a.Name(), "workdir", err)
	}
	s.tempDir = tempDir
	defer a.cleanup(s, opts.NoClean || a.eng.cfg.NoClean)

	if err := a.provisionInputs(ctx, m, s, opts.Inputs); err != nil {
		return err
	}

	s.tpl, err = tmpl.New(a.templateContext(m, cfg, opts, false))
	if err != nil {
		return apperr.E(apperr.KindRun, a.Name(), "template", err)
	}

	args, err := s.tpl.Command(w.Command)
	switch {
	case errors.Is(err, tmpl.ErrNoCommand):
		args = nil
	case err != nil:
		return apperr.E(apperr.KindRun, a.Name(), "command", err)
	}

	spec := backend.RunSpec{
		Image:   a.Name(),
		Name:    a.Name() + "-" + model.ShortID(s.runID),
		Env:     s.tpl.Environment(w.Environment),
		Volumes: []backend.Volume{{Host: tempDir, Container: model.MountDataPath(w)}},
		Args:    args,
		LogWriter: func(line string) {
			a.logger.Debug("worker output", "run_id", s.runID, "line", line)
			a.eng.broker.Publish(s.runID, Event{Type: EventLog, Line: line})
		},
	}
	if opts.Shell != "" {
		a.logger.Info("starting debug shell", "shell", opts.Shell, "command", args)
		spec.Interactive = true
		spec.Args = []string{opts.Shell}
	}

	if a.eng.runtime == nil {
		return apperr.Errorf(apperr.KindRun, a.Name(), "", "no container runtime configured")
	}
	if _, err := a.eng.runtime.Run(ctx, spec); err != nil {
		return apperr.E(apperr.KindRun, a.Name(), "", err)
	}

	return a.collectOutputs(ctx, m, s, opts.Outputs)
}

func (a *App) provisionInputs(ctx context.Context, m model.Manifest, s *session, inputs []*resource.Resource) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range m.Inputs {
		r := at(inputs, i)
		if r == nil {
			continue
		}
		g.Go(func() error {
			if err := a.provisionInput(gctx, s, spec, i, r); err != nil {
				return apperr.Errorf(apperr.KindProvision, a.Name(), "", "input #%d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) provisionInput(ctx context.Context, s *session, spec model.FileSpec, i int, r *resource.Resource) error {
	name := slotFilename(spec, "input", i)
	if err := r.EnsureLocal(ctx, filepath.Join(s.tempDir, incomingDir), name); err != nil {
		return err
	}
	dst := filepath.Join(s.tempDir, name)

	switch spec.Type {
	case model.FileReferences:
		if a.eng.converter == nil {
			return errors.New("no reference converter configured")
		}
		a.logger.Info("converting input", "slot", i, "src", r.PathLocal, "dst", dst, "format", spec.Format)
		return a.eng.converter.Convert(ctx, r.PathLocal, dst, spec.Format)
	case model.FileOther:
		if err := checkAccepts(spec.Accepts, r); err != nil {
			a.logger.Warn("input does not match accepted patterns, copying anyway", "slot", i, "error", err)
		}
		fallthrough
	case model.FileSpreadsheet, model.FileText:
		a.logger.Info("copying input", "slot", i, "src", r.PathLocal, "dst", dst)
		return resource.CopyFile(r.PathLocal, dst)
	default:
		return fmt.Errorf("unknown input type %q", spec.Type)
	}
}

// checkAccepts matches the resource's file name against the slot's globs.
// A mismatch is advisory: callers log it and provision the file unchanged.
func checkAccepts(globs []string, r *resource.Resource) error {
	if len(globs) == 0 {
		return nil
	}
	name := filepath.Base(r.PathLocal)
	if r.PathURL != "" {
		if u, err := url.Parse(r.PathURL); err == nil {
			if base := path.Base(u.Path); base != "/" && base != "." {
				name = base
			}
		}
	}
	for _, g := range globs {
		ok, err := doublestar.Match(g, name)
		if err != nil {
			return fmt.Errorf("bad accepts pattern %q: %w", g, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("file %q does not match any of %v", name, globs)
}

func (a *App) collectOutputs(ctx context.Context, m model.Manifest, s *session, outputs []*resource.Resource) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range m.Outputs {
		r := at(outputs, i)
		name := slotFilename(spec, "output", i)
		src := filepath.Join(s.tempDir, name)

		g.Go(func() error {
			if _, err := os.Stat(src); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					return apperr.E(apperr.KindOutput, a.Name(), "", err)
				}
				if !spec.Required {
					a.logger.Info("skipping absent optional output", "slot", i, "filename", name)
					return nil
				}
				return apperr.Errorf(apperr.KindOutput, a.Name(), "", "%w: %q was not produced by the worker", apperr.ErrMissingOutput, name)
			}
			if r == nil {
				a.logger.Info("output produced for an omitted slot", "slot", i, "filename", name)
				return nil
			}

			a.logger.Info("delivering output", "slot", i, "src", src, "dst", r.Path())
			if err := r.Deliver(gctx, src); err != nil {
				return apperr.Errorf(apperr.KindOutput, a.Name(), "", "output #%d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runWeb sends the user to the worker and polls the outputs. It reports
// whether the broker topic was handed to a background watch.
func (a *App) runWeb(ctx context.Context, w model.WebWorker, s *session, cfg map[string]any, opts RunOptions, res *Result) (bool, error) {
	m := a.Manifest()

	for branch, list := range map[string][]*resource.Resource{"input": opts.Inputs, "output": opts.Outputs} {
		for i, r := range list {
			if r == nil {
				continue
			}
			if err := r.EnsureURL(ctx); err != nil {
				return false, apperr.Errorf(apperr.KindProvision, a.Name(), "", "%s #%d: %w", branch, i, err)
			}
		}
	}

	tpl, err := tmpl.New(a.templateContext(m, cfg, opts, true))
	if err != nil {
		return false, apperr.E(apperr.KindRun, a.Name(), "template", err)
	}
	s.tpl = tpl

	workerURL, err := tpl.URL(w.URL)
	if err != nil {
		return false, apperr.E(apperr.KindRun, a.Name(), "", err)
	}
	res.WorkerURL = workerURL

	a.logger.Info("visit the worker URL to complete the run", "run_id", s.runID, "url", workerURL)
	a.eng.broker.Publish(s.runID, Event{Type: EventRedirect, URL: workerURL})
	if opts.OnRedirect != nil {
		opts.OnRedirect(workerURL)
	}

	targets := make([]web.Target, 0, len(opts.Outputs))
	for _, r := range opts.Outputs {
		if r != nil {
			targets = append(targets, r)
		}
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = a.eng.cfg.PollInterval
	}
	poller := web.NewPoller(interval, a.logger.With("run_id", s.runID))

	if opts.NoWait {
		watch := poller.Start(context.WithoutCancel(ctx), targets)
		res.Watch = watch
		go func() {
			<-watch.Done()
			if err := watch.Err(); err != nil {
				a.logger.Error("waiting for outputs failed", "run_id", s.runID, "error", err)
			} else {
				a.logger.Info("received all outputs", "run_id", s.runID)
			}
			a.eng.broker.Close(s.runID)
		}()
		return true, nil
	}

	if err := poller.Wait(ctx, targets); err != nil {
		if apperr.KindOf(err) != "" {
			return false, err
		}
		return false, apperr.E(apperr.KindOutput, a.Name(), "poll", err)
	}
	a.logger.Info("received all outputs", "run_id", s.runID)
	return false, nil
}

// cleanup removes the working directory. Failures are logged and counted,
// never returned.
func (a *App) cleanup(s *session, noClean bool) {
	if s.tempDir == "" {
		return
	}
	if noClean {
		a.logger.Warn("not cleaning up working directory", "run_id", s.runID, "dir", s.tempDir)
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		cleanupFailures.Inc()
		a.logger.Error("cleanup failed", "run_id", s.runID, "dir", s.tempDir,
			"error", apperr.E(apperr.KindCleanup, a.Name(), "", err))
		return
	}
	a.logger.Debug("removed working directory", "run_id", s.runID, "dir", s.tempDir)
}
