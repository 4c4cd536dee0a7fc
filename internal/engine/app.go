package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/anvil/internal/apperr"
	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/backend/docker"
	"github.com/seantiz/anvil/internal/manifest"
	"github.com/seantiz/anvil/internal/model"
)

// RecipeFile is the build file looked up at the app root for docker workers
// that do not declare a base image.
const RecipeFile = "Dockerfile"

// InitOptions controls App.Init.
type InitOptions struct {
	// SkipValidate loads the manifest without validating it.
	SkipValidate bool

	// SkipBuild leaves a docker worker unbuilt; call Build before Run.
	SkipBuild bool
}

// App is one loaded app. Its manifest is read-only once loaded.
type App struct {
	eng *Engine

	mu       sync.Mutex
	id       string
	locator  string
	path     string
	name     string
	source   manifest.SourceKind
	manifest model.Manifest
	state    string

	logger *slog.Logger
}

// ID returns the app's unique id.
func (a *App) ID() string { return a.id }

// Locator returns the locator the app was created from.
func (a *App) Locator() string { return a.locator }

// Path returns the resolved app root: a local directory, or the manifest URL
// for HTTP sources.
func (a *App) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

// Name returns the sanitized app name used for images and containers.
func (a *App) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// State returns the lifecycle state.
func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Manifest returns the loaded manifest.
func (a *App) Manifest() model.Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest
}

func (a *App) setState(to string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !model.ValidTransition(a.state, to) {
		return fmt.Errorf("invalid state transition %s -> %s", a.state, to)
	}
	a.state = to
	return nil
}

// Init loads the manifest, validates it and builds the worker.
func (a *App) Init(ctx context.Context, opts InitOptions) (err error) {
	ctx, span := a.eng.tracer.Start(ctx, "app.init", trace.WithAttributes(attribute.String("app.locator", a.locator)))
	defer func() { endSpan(span, err) }()

	src, err := a.eng.loader.Load(ctx, a.locator)
	if err != nil {
		return err
	}
	appsLoaded.WithLabelValues(string(src.Kind)).Inc()

	if opts.SkipValidate {
		a.logger.Warn("skipping manifest validation", "locator", a.locator)
	} else {
		a.logger.Info("validating manifest", "locator", a.locator)
		if err := validate(src.Raw); err != nil {
			return err
		}
	}

	m, err := manifest.Decode(src.Raw)
	if err != nil {
		return err
	}
	if m.Name == "" {
		return apperr.Errorf(apperr.KindValidation, "", "init", "manifest has no name field; enable validation or validate the manifest manually")
	}

	name := manifest.SanitizeName(m.Name)
	if !manifest.UsableName(name) {
		fallback := "app-" + model.ShortID(a.id)
		a.logger.Warn("manifest name has no usable characters", "manifest_name", m.Name, "name", fallback)
		name = fallback
	}

	a.mu.Lock()
	a.path = src.Root
	a.source = src.Kind
	a.manifest = m
	a.name = name
	a.logger = a.eng.logger.With("app", a.name, "app_id", a.id)
	a.mu.Unlock()

	if err := a.setState(model.StateLoaded); err != nil {
		return apperr.E(apperr.KindLoad, a.Name(), "init", err)
	}
	span.SetAttributes(attribute.String("app.name", a.Name()))

	if opts.SkipBuild {
		return nil
	}
	return a.Build(ctx)
}

// Validate checks the loaded manifest document again.
func (a *App) Validate() error {
	m := a.Manifest()
	if m.Raw() == nil {
		return apperr.Errorf(apperr.KindValidation, a.Name(), "", "no manifest loaded")
	}
	if err := validate(m.Raw()); err != nil {
		return err
	}
	return nil
}

func validate(raw map[string]any) error {
	if err := manifest.Validate(raw); err != nil {
		name, _ := raw["name"].(string)
		return apperr.E(apperr.KindValidation, name, "", err)
	}
	return nil
}

// Build prepares the worker. Web workers need nothing; docker workers get
// their image built from the inline recipe or the app's Dockerfile.
func (a *App) Build(ctx context.Context) (err error) {
	if a.State() == model.StateUnloaded {
		return apperr.Errorf(apperr.KindBuild, a.Name(), "", "app is not loaded")
	}

	ctx, span := a.eng.tracer.Start(ctx, "app.build", trace.WithAttributes(attribute.String("app.name", a.Name())))
	defer func() { endSpan(span, err) }()

	m := a.Manifest()
	switch w := m.Worker.(type) {
	case model.WebWorker:
		a.logger.Debug("web worker needs no build")
	case model.DockerWorker:
		if err := a.buildImage(ctx, w); err != nil {
			return err
		}
	default:
		return apperr.E(apperr.KindBuild, a.Name(), "", apperr.ErrUnknownWorker)
	}

	if err := a.setState(model.StateBuilt); err != nil {
		return apperr.E(apperr.KindBuild, a.Name(), "", err)
	}
	return nil
}

func (a *App) buildImage(ctx context.Context, w model.DockerWorker) error {
	if a.eng.runtime == nil {
		return apperr.Errorf(apperr.KindBuild, a.Name(), "", "no container runtime configured")
	}

	spec := backend.BuildSpec{
		Image:     a.Name(),
		LogWriter: func(line string) { a.logger.Debug("build output", "line", line) },
	}

	if w.Base != "" {
		a.logger.Info("building image", "image", spec.Image, "base", w.Base)
		spec.Recipe = docker.Recipe(w)
	} else {
		root := a.Path()
		recipe := filepath.Join(root, RecipeFile)
		if a.source == manifest.SourceHTTP {
			return apperr.Errorf(apperr.KindBuild, a.Name(), "", "%w at path %s", apperr.ErrRecipeNotFound, recipe)
		}
		if _, err := os.Stat(recipe); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return apperr.Errorf(apperr.KindBuild, a.Name(), "", "%w at path %s", apperr.ErrRecipeNotFound, recipe)
			}
			return apperr.E(apperr.KindBuild, a.Name(), "", err)
		}
		a.logger.Info("building image", "image", spec.Image, "recipe", recipe)
		spec.RecipeFile = recipe
		spec.ContextDir = root
	}

	if err := a.eng.runtime.Build(ctx, spec); err != nil {
		return apperr.E(apperr.KindBuild, a.Name(), "", err)
	}
	return nil
}

// ResolveConfig fills input with the defaults of the manifest's config
// schema and validates the result.
func (a *App) ResolveConfig(input map[string]any) (map[string]any, error) {
	m := a.Manifest()
	cfg, err := a.eng.resolver.Resolve(a.id, m.Config, input)
	if err != nil {
		return nil, apperr.E(apperr.KindConfig, a.Name(), "", err)
	}
	return cfg, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
