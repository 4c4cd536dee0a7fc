package engine

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/manifest"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/refconv"
	"github.com/seantiz/anvil/internal/resource"
	"github.com/seantiz/anvil/internal/settings"
)

const tracerName = "github.com/seantiz/anvil/internal/engine"

// Loader resolves a locator into a manifest document.
type Loader interface {
	Load(ctx context.Context, locator string) (manifest.Source, error)
}

// Config holds engine-wide settings.
type Config struct {
	// WorkDir is the parent of per-run working directories. Empty means
	// the system temp dir.
	WorkDir string

	// NoClean keeps run working directories for inspection.
	NoClean bool

	// PollInterval is the default web output poll interval.
	PollInterval time.Duration
}

// Engine creates and runs apps. It is safe for concurrent use; each App
// owns its own working directory and container name.
type Engine struct {
	cfg       Config
	loader    Loader
	runtime   backend.ContainerRuntime
	resolver  *settings.Resolver
	converter refconv.Converter
	client    *http.Client
	broker    *Broker
	newID     model.IDSource
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDSource replaces the ULID generator used for app and run ids.
func WithIDSource(src model.IDSource) Option {
	return func(e *Engine) { e.newID = src }
}

// WithConverter sets the reference converter used for "references" inputs.
func WithConverter(c refconv.Converter) Option {
	return func(e *Engine) { e.converter = c }
}

// WithHTTPClient sets the client used for remote inputs and outputs.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithBroker shares an existing event broker.
func WithBroker(b *Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// New creates an Engine. runtime may be nil when only web workers are run.
func New(cfg Config, loader Loader, runtime backend.ContainerRuntime, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		loader:   loader,
		runtime:  runtime,
		resolver: settings.NewResolver(),
		client:   http.DefaultClient,
		broker:   NewBroker(),
		newID:    model.NewID,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broker returns the broker carrying run events.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// NewRunID returns a fresh run id, for callers that subscribe to the broker
// before starting a run.
func (e *Engine) NewRunID() string {
	return e.newID()
}

// Resource creates a resource that transfers through the engine's HTTP client.
func (e *Engine) Resource(locator string, opts ...resource.Option) (*resource.Resource, error) {
	return resource.New(locator, append([]resource.Option{resource.WithClient(e.client)}, opts...)...)
}

// NewApp returns an unloaded App for locator.
func (e *Engine) NewApp(locator string) *App {
	id := e.newID()
	return &App{
		eng:     e,
		id:      id,
		locator: locator,
		path:    locator,
		name:    "app-" + model.ShortID(id),
		state:   model.StateUnloaded,
		logger:  e.logger.With("app_id", id),
	}
}

// Open creates an App and initialises it.
func (e *Engine) Open(ctx context.Context, locator string, opts InitOptions) (*App, error) {
	app := e.NewApp(locator)
	if err := app.Init(ctx, opts); err != nil {
		return nil, err
	}
	return app, nil
}
