// Package app wires all worldtracker subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the MCP and HTTP surfaces, and Shutdown flushes
// pending pushes and tears everything down in order.
//
// For testing, inject test doubles via functional options (WithMirror,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/worldtracker/internal/config"
	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/feed"
	"github.com/MrWong99/worldtracker/internal/health"
	"github.com/MrWong99/worldtracker/internal/mcpserver"
	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/internal/persist"
	"github.com/MrWong99/worldtracker/internal/render"
	"github.com/MrWong99/worldtracker/internal/resilience"
	"github.com/MrWong99/worldtracker/internal/resolve"
	"github.com/MrWong99/worldtracker/internal/tracker"
	"github.com/MrWong99/worldtracker/pkg/docstore"
	"github.com/MrWong99/worldtracker/pkg/provider/llm"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// ErrNoOracle is returned by extraction when no oracle backend is configured.
var ErrNoOracle = errors.New("app: no oracle configured")

// shutdownGrace bounds the HTTP server drain on shutdown.
const shutdownGrace = 10 * time.Second

// Providers holds the external backends. Nil means not configured. Populated
// by main.go via the config registry.
type Providers struct {
	Oracle llm.Provider
	Store  docstore.Store
}

// MirrorStore is a local mirror that also records context bindings.
type MirrorStore interface {
	persist.Mirror
	persist.Bindings
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems: initialised in New, torn down in Shutdown.
	mirror   MirrorStore
	metrics  *observe.Metrics
	level    *slog.LevelVar
	hub      *feed.Hub
	session  *tracker.Session
	mcp      *mcpserver.Server
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMirror injects a mirror instead of creating one from config.
func WithMirror(m MirrorStore) Option {
	return func(a *App) { a.mirror = m }
}

// WithMetrics injects metric instruments instead of initialising the
// OpenTelemetry providers.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.Reload] adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the version reported to MCP clients and telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers, version: "dev"}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMetrics(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.initMirror(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	a.initStore()

	a.hub = feed.NewHub()
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })

	p := cfg.Persistence
	a.session = tracker.New(tracker.Config{
		Store:    providers.Store,
		Oracle:   a.oracle(),
		Resolver: resolver(cfg.Resolver),
		Mirror:   a.mirror,
		Bindings: a.mirror,
		Metrics:  a.metrics,
		Sink:     a.hub,
		Defaults: world.Defaults{
			Setting:   cfg.Tracker.Setting,
			StartDate: cfg.Tracker.StartDate,
			Threshold: cfg.Tracker.DivergenceThreshold,
		},
		BlockTag:  cfg.Oracle.BlockTag,
		Render:    renderOptions(cfg.Tracker),
		Freshness: p.MirrorFreshness,
		Debounce:  p.Debounce,
		Retry: resilience.RetryPolicy{
			Name:        "store push",
			MaxAttempts: p.Retry.MaxAttempts,
			Backoff:     p.Retry.Backoff,
			MaxBackoff:  p.Retry.MaxBackoff,
		},
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "store"}),
	})
	a.mcp = mcpserver.New(a.session, a.version)

	a.checkers = append(a.checkers, health.Require("oracle", "no oracle configured", func() bool {
		return providers.Oracle != nil
	}))
	return a, nil
}

func (a *App) initMetrics(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	otelProviders, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: a.version})
	if err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return otelProviders.Shutdown(ctx)
	})
	m, err := observe.NewMetrics(otelProviders.Meter)
	if err != nil {
		return fmt.Errorf("app: create metrics: %w", err)
	}
	a.metrics = m
	return nil
}

func (a *App) initMirror(ctx context.Context) error {
	if a.mirror != nil {
		return nil
	}
	path := a.cfg.Persistence.MirrorPath
	if path == "" {
		slog.Info("no mirror path configured, mirroring in memory only")
		a.mirror = persist.NewMemoryMirror()
		return nil
	}
	db, err := persist.OpenSQLite(ctx, path)
	if err != nil {
		return fmt.Errorf("app: open mirror: %w", err)
	}
	a.mirror = db
	a.closers = append(a.closers, db.Close)
	a.checkers = append(a.checkers, health.Ping("mirror", db))
	return nil
}

func (a *App) initStore() {
	store := a.providers.Store
	if store == nil {
		slog.Warn("no document store configured, world state stays local")
		return
	}
	if p, ok := store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("store", p))
	}
	switch c := store.(type) {
	case interface{ Close() error }:
		a.closers = append(a.closers, c.Close)
	case interface{ Close() }:
		a.closers = append(a.closers, func() error { c.Close(); return nil })
	}
}

func (a *App) oracle() extract.Oracle {
	if a.providers.Oracle == nil {
		return extract.OracleFunc(func(context.Context, string) (string, error) {
			return "", ErrNoOracle
		})
	}
	return extract.NewLLMOracle(a.providers.Oracle,
		extract.WithTemperature(a.cfg.Oracle.Temperature),
		extract.WithMaxTokens(a.cfg.Oracle.MaxTokens),
	)
}

func resolver(cfg config.ResolverConfig) resolve.Resolver {
	if !cfg.Phonetic {
		return resolve.Alias{}
	}
	return resolve.Chain{
		resolve.Alias{},
		resolve.NewPhonetic(
			resolve.WithPhoneticThreshold(cfg.PhoneticThreshold),
			resolve.WithFuzzyThreshold(cfg.FuzzyThreshold),
		),
	}
}

func renderOptions(cfg config.TrackerConfig) render.Options {
	return render.Options{MaxNPCs: cfg.MaxNPCs, ScanDepth: cfg.ScanDepth}
}

// Session returns the tracking session.
func (a *App) Session() *tracker.Session { return a.session }

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunOptions selects the surfaces served by [App.Run].
type RunOptions struct {
	// Stdio serves MCP over stdin/stdout.
	Stdio bool

	// HTTP serves metrics, health and the status feed on the configured
	// listen address.
	HTTP bool
}

// Handler returns the HTTP surface: /metrics, /healthz, /readyz and the
// websocket status feed on /feed.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /feed", a.hub)
	return observe.Middleware(a.metrics)(mux)
}

// Run serves the selected surfaces until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	if opts.HTTP {
		srv := &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if opts.Stdio {
		g.Go(func() error {
			err := a.mcp.Run(ctx, &sdk.StdioTransport{})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: mcp: %w", err)
			}
			slog.Info("mcp client disconnected")
			return nil
		})
	}

	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the parts of a changed config that take effect without a
// restart and logs the rest.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelOf(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TrackerChanged {
		a.session.SetRender(renderOptions(d.NewTracker))
		slog.Info("tracker limits changed", "max_npcs", d.NewTracker.MaxNPCs, "scan_depth", d.NewTracker.ScanDepth)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// LevelOf converts a config log level to a slog level.
func LevelOf(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown pushes pending changes, then tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.session.Close(ctx); err != nil {
			slog.Warn("final push failed, mirror keeps the latest state", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
