// Package app wires all MindScope subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and delivers relay events until the context
// ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithPublishers, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindscope/internal/api"
	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/internal/engine"
	"github.com/MrWong99/mindscope/internal/health"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/internal/relay"
	"github.com/MrWong99/mindscope/pkg/audio"
)

// shutdownGrace bounds the HTTP server's graceful shutdown inside Run.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or built in New.
	registry   *config.Registry
	device     audio.Device
	publishers []relay.Publisher
	metrics    *observe.Metrics
	gatherer   prometheus.Gatherer
	listener   net.Listener

	// Subsystems, initialised in New and torn down in Shutdown.
	engine    *engine.Engine
	recoverer *engine.Recoverer
	forwarder *relay.Forwarder
	health    *health.Handler
	api       *api.Server
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects the capture device instead of building it from
// capture.device and capture.fallback.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithRegistry sets the registry capture devices are created from.
// Defaults to [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithPublishers injects relay publishers instead of dialing the brokers in
// the relays section.
func WithPublishers(pubs ...relay.Publisher) Option {
	return func(a *App) { a.publishers = pubs }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets what /metrics serves. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It resolves the
// capture device, builds the engine, connects the relays and prepares the
// HTTP surface. Nothing is captured until Run (with engine.auto_start) or a
// start request.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	// ── 1. Capture device ────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init capture device: %w", err)
	}

	// ── 2. Engine ────────────────────────────────────────────────────────
	a.engine = engine.New(a.device,
		engine.WithInterval(cfg.Engine.Interval),
		engine.WithConstraints(cfg.Capture.Constraints()),
		engine.WithHistory(cfg.Engine.History()),
		engine.WithMetrics(a.metrics),
	)
	if r := cfg.Engine.Recovery; r.Enabled {
		a.recoverer = engine.NewRecoverer(a.engine, engine.RecoveryConfig{
			MaxRetries: r.MaxRetries,
			Backoff:    r.Backoff,
			MaxBackoff: r.MaxBackoff,
		})
		// Stopped before the engine so it cannot restart analysis on the
		// way down.
		a.closers = append(a.closers, func() error {
			a.recoverer.Stop()
			return nil
		})
	}
	a.closers = append(a.closers, func() error {
		a.engine.Stop()
		return nil
	})

	// ── 3. Relays ────────────────────────────────────────────────────────
	if err := a.initRelays(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init relays: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevice resolves the capture device. With fallbacks configured the
// devices are chained behind circuit breakers.
func (a *App) initDevice() error {
	if a.device != nil {
		return nil
	}
	devices, err := a.registry.CreateDevices(a.cfg.Capture)
	if err != nil {
		return err
	}
	if len(devices) == 1 {
		a.device = devices[0]
	} else {
		a.device = engine.NewFallbackDevice(devices[0], devices[1:]...)
	}
	slog.Info("capture device ready", "device", a.device.Name())
	return nil
}

// initRelays connects the configured brokers and attaches a forwarder to
// the engine's bus. With no relays configured it does nothing.
func (a *App) initRelays(ctx context.Context) error {
	if a.publishers == nil {
		pubs, err := dialRelays(ctx, a.cfg.Relays)
		if err != nil {
			return err
		}
		a.publishers = pubs
	}
	if len(a.publishers) == 0 {
		return nil
	}

	a.forwarder = relay.NewForwarder(a.publishers,
		relay.WithQueueSize(a.cfg.Relays.QueueSize),
		relay.WithMetrics(a.metrics),
		relay.WithSessionID(a.engine.SessionID),
	)
	a.forwarder.Attach(a.engine.Bus())
	a.closers = append(a.closers, a.forwarder.Close)
	slog.Info("relays attached", "publishers", a.forwarder.Publishers())
	return nil
}

// dialRelays connects every configured broker. If one fails, those already
// connected are closed again.
func dialRelays(ctx context.Context, cfg config.RelaysConfig) ([]relay.Publisher, error) {
	var pubs []relay.Publisher
	fail := func(err error) ([]relay.Publisher, error) {
		for _, p := range pubs {
			_ = p.Close()
		}
		return nil, err
	}

	if n := cfg.NATS; n != nil {
		p, err := relay.DialNATS(n.URL, n.Subject, "mindscope")
		if err != nil {
			return fail(err)
		}
		pubs = append(pubs, p)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if m := cfg.MQTT; m != nil {
		p, err := relay.DialMQTT(relay.MQTTConfig{
			Broker:   m.Broker,
			Topic:    m.Topic,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			QoS:      byte(m.QoS),
		})
		if err != nil {
			return fail(err)
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// initHTTP builds the health checks, the API and the server.
func (a *App) initHTTP() {
	checkers := []health.Checker{{
		Name: "engine",
		Check: func(context.Context) error {
			st := a.engine.Status()
			if st.State == engine.Errored {
				return fmt.Errorf("engine errored: %w", st.LastError)
			}
			return nil
		},
	}}
	if a.forwarder != nil {
		for _, name := range a.forwarder.Publishers() {
			checkers = append(checkers, health.Checker{
				Name:     "relay:" + name,
				Optional: true,
				Check:    func(context.Context) error { return a.forwarder.Check(name) },
			})
		}
	}
	a.health = health.New(checkers...)

	a.api = api.New(a.engine, api.WithMetrics(a.metrics))
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api.Handler(a.health, a.gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Engine returns the sampling engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and delivers relay events until ctx ends or the server
// fails. With engine.auto_start set it starts analysis first; a failure to
// start is logged, not fatal, so the API stays up to report it.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	if a.forwarder != nil {
		g.Go(func() error {
			return a.forwarder.Run(gctx)
		})
	}

	if a.recoverer != nil {
		g.Go(func() error {
			return a.recoverer.Run(gctx)
		})
	}

	if a.cfg.Engine.AutoStart {
		if err := a.engine.Start(gctx); err != nil {
			slog.Error("auto start failed", "err", err)
		}
	}

	slog.Info("app running", "device", a.device.Name(), "auto_start", a.cfg.Engine.AutoStart)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable parts of a changed config and
// logs the sections that need a restart. level is the live log level.
func (a *App) ApplyConfig(old, new *config.Config, level *slog.LevelVar) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && level != nil {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops analysis and releases every subsystem in init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("http server shutdown", "err", err)
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

		if err := a.engine.Wait(ctx); err != nil {
			shutdownErr = err
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers is the Shutdown path for a half-built App.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
