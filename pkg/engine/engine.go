// Package engine is the public facade: it wires the probe, browser,
// detection, injection, scheduling, persistence, and notifications into a
// captive portal auto-login engine.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/portalpilot/portalpilot/internal/backoff"
	"github.com/portalpilot/portalpilot/internal/browser"
	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/detect"
	"github.com/portalpilot/portalpilot/internal/inject"
	"github.com/portalpilot/portalpilot/internal/keepalive"
	"github.com/portalpilot/portalpilot/internal/logger"
	"github.com/portalpilot/portalpilot/internal/metrics"
	"github.com/portalpilot/portalpilot/internal/notify"
	"github.com/portalpilot/portalpilot/internal/probe"
	"github.com/portalpilot/portalpilot/internal/rerr"
	"github.com/portalpilot/portalpilot/internal/sched"
	"github.com/portalpilot/portalpilot/internal/session"
	"github.com/portalpilot/portalpilot/internal/state"
)

// Engine coordinates automatic captive portal logins.
type Engine struct {
	config *Config
	log    *logger.Logger

	port         browsing.Port
	prober       *probe.Prober
	orchestrator *session.Orchestrator
	scheduler    *sched.Scheduler
	store        state.Store
	dispatcher   *notify.Dispatcher
	hub          *notify.Hub
	extraSinks   []notify.Notifier

	mu      sync.RWMutex
	current *creds.Credentials

	httpServer *http.Server
	closeOnce  sync.Once
	closeErr   error
}

// New creates an engine. Without WithPort the headless browser is launched
// immediately.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if e.log == nil {
		level := logger.InfoLevel
		if e.config.Debug {
			level = logger.DebugLevel
		}
		e.log = logger.New(logger.Config{
			Level:     level,
			Pretty:    e.config.Verbose,
			Component: "engine",
		})
	}

	if e.store == nil {
		if e.config.StatePath != "" {
			s, err := state.NewBoltStore(e.config.StatePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open credential store: %w", err)
			}
			e.store = s
		} else {
			e.store = state.NewMemoryStore()
		}
	}

	stored, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load stored credentials: %w", err)
	}
	e.current = stored

	e.prober = probe.New(probe.Config{
		ProbeURL:   e.config.Probe.URL,
		Timeout:    e.config.Probe.Timeout,
		RetryDelay: e.config.Probe.RetryDelay,
	}, e.log.WithComponent("probe"))

	if e.port == nil {
		b, err := browser.New(e.config.Browser, e.log.WithComponent("browser"))
		if err != nil {
			return nil, err
		}
		e.port = b
	}

	heuristics, err := detect.NewHeuristics(e.config.Heuristics.UsernamePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid username pattern: %w", err)
	}
	classifier, err := keepalive.New(e.config.Heuristics.KeepaliveURLToken, e.config.Heuristics.KeepaliveTextPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid keepalive pattern: %w", err)
	}

	e.orchestrator = session.New(
		e.port,
		e.prober,
		detect.New(heuristics, e.log.WithComponent("detect")),
		inject.New(heuristics, e.log.WithComponent("inject")),
		session.Config{
			SeedURL:        e.config.Session.SeedURL,
			ProbeCooldown:  e.config.Session.ProbeCooldown,
			LoadTimeout:    e.config.Session.LoadTimeout,
			DetectAttempts: e.config.Session.DetectAttempts,
			DetectInterval: e.config.Session.DetectInterval,
		},
		e.log.WithComponent("session"),
	)

	e.dispatcher = notify.NewDispatcher(e.config.Notify.Window, e.log.WithComponent("notify"))
	e.dispatcher.AddSink(notify.NewLogNotifier(e.log.WithComponent("notify")))
	if e.config.Notify.ListenAddr != "" {
		e.hub = notify.NewHub(e.log.WithComponent("notify-hub"))
		e.dispatcher.AddSink(e.hub)
	}
	for _, sink := range e.extraSinks {
		e.dispatcher.AddSink(sink)
	}

	e.scheduler = sched.New(
		e,
		e.prober,
		e.orchestrator,
		e.orchestrator,
		classifier,
		e.dispatcher,
		e.log.WithComponent("sched"),
	)

	return e, nil
}

// Current returns the configured credentials, or nil. It implements the
// scheduler's credential source.
func (e *Engine) Current() *creds.Credentials {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	clone := e.current.Clone()
	return &clone
}

// SetConfig replaces the credential configuration. The engine keeps exactly
// one set; the previous one is discarded.
func (e *Engine) SetConfig(c creds.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := e.store.Save(c); err != nil {
		return err
	}

	clone := c.Clone()
	e.mu.Lock()
	e.current = &clone
	e.mu.Unlock()

	// Fresh credentials deserve an immediate locked notification next time,
	// not one suppressed by the old window.
	if origin, err := c.Origin(); err == nil {
		e.dispatcher.ResetLimit(origin, notify.ClassLocked)
	}

	e.log.Infof("credentials configured for %s", c.LoginURL)
	return nil
}

// ClearConfig removes the credential configuration.
func (e *Engine) ClearConfig() error {
	if err := e.store.Clear(); err != nil {
		return err
	}
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	e.log.Info("credentials cleared")
	return nil
}

// TriggerLoginNow forces an immediate attempt: no connectivity
// short-circuit, no backoff wait, and the in-flight guard is overridden.
// Finding the internet already reachable is a success, not an error.
func (e *Engine) TriggerLoginNow(ctx context.Context) error {
	err := e.scheduler.Attempt(ctx, true)
	if rerr.KindOf(err) == rerr.AlreadyUp {
		return nil
	}
	return err
}

// ReportPortalObserved ingests an externally sighted portal URL.
func (e *Engine) ReportPortalObserved(ctx context.Context, portalURL string) error {
	return e.scheduler.ReportPortalObserved(ctx, portalURL)
}

// Status is a point-in-time view of the engine.
type Status struct {
	CredentialsSet bool                `json:"credentials_set"`
	LoginURL       string              `json:"login_url,omitempty"`
	InternetUp     bool                `json:"internet_up"`
	Backoff        backoff.OriginState `json:"backoff"`
	Metrics        *metrics.Snapshot   `json:"metrics"`
}

// Status reports the current state, probing connectivity once.
func (e *Engine) Status(ctx context.Context) Status {
	s := Status{
		InternetUp: e.prober.IsInternetUp(ctx),
		Metrics:    e.scheduler.Metrics(),
	}
	if c := e.Current(); c != nil {
		s.CredentialsSet = true
		s.LoginURL = c.LoginURL
		if origin, err := c.Origin(); err == nil {
			s.Backoff = e.scheduler.Backoff().Snapshot(origin)
		}
	}
	return s
}

// Run blocks, serving the notification feed (when configured) and running
// the periodic check loop until the context ends.
func (e *Engine) Run(ctx context.Context) error {
	if e.hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/notifications", e.hub)
		e.httpServer = &http.Server{
			Addr:    e.config.Notify.ListenAddr,
			Handler: mux,
		}
		go func() {
			e.log.Infof("notification feed listening on %s", e.config.Notify.ListenAddr)
			if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.log.WithError(err).Error("notification feed server failed")
			}
		}()
	}

	e.log.Info("engine started")
	e.scheduler.Run(ctx)
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	if e.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.httpServer.Shutdown(shutdownCtx)
	}
	if e.hub != nil {
		e.hub.Close()
	}
	return e.Close()
}

// Close releases the store and the browser. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.store.Close(); err != nil {
			e.closeErr = err
		}
		if closer, ok := e.port.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}
