// Package session owns acquisition and reuse of browsing contexts used to
// reach the portal, and drives detection and injection against them.
package session

import (
	"context"
	"time"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/detect"
	"github.com/portalpilot/portalpilot/internal/inject"
	"github.com/portalpilot/portalpilot/internal/logger"
	"github.com/portalpilot/portalpilot/internal/rerr"
)

// Config bounds the orchestrator's waits and retries.
type Config struct {
	// SeedURL is where the lightweight probe session points initially; a
	// captive portal redirects it to the login page on its own.
	SeedURL string

	// ProbeCooldown is the minimum gap between probe session creations, so
	// repeated failures do not open a pile of tabs.
	ProbeCooldown time.Duration

	// LoadTimeout bounds every wait-for-load.
	LoadTimeout time.Duration

	// DetectAttempts is the total number of field scans per attempt.
	DetectAttempts int

	// DetectInterval is the wait between field scans after the reload.
	DetectInterval time.Duration
}

// DefaultConfig returns the stock bounds.
func DefaultConfig() Config {
	return Config{
		SeedURL:        "http://connectivitycheck.gstatic.com/generate_204",
		ProbeCooldown:  15 * time.Second,
		LoadTimeout:    15 * time.Second,
		DetectAttempts: 3,
		DetectInterval: 1200 * time.Millisecond,
	}
}

// Prober is the connectivity re-check the orchestrator consults before
// touching any browsing context.
type Prober interface {
	IsInternetUp(ctx context.Context) bool
}

// Outcome reports which session carried the attempt and whether the engine
// created it, so cleanup can decide what it may close.
type Outcome struct {
	Result    inject.Result
	SessionID string
	Created   bool
}

// Orchestrator locates or creates a session at the portal origin and runs
// detection plus injection against it.
type Orchestrator struct {
	port     browsing.Port
	probe    Prober
	detector *detect.Detector
	injector *inject.Injector
	created  *browsing.CreatedRegistry
	config   Config
	log      *logger.Logger

	probeSession    browsing.Session
	lastProbeCreate time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates an orchestrator.
func New(port browsing.Port, probe Prober, detector *detect.Detector, injector *inject.Injector, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.SeedURL == "" {
		cfg.SeedURL = DefaultConfig().SeedURL
	}
	if cfg.ProbeCooldown <= 0 {
		cfg.ProbeCooldown = DefaultConfig().ProbeCooldown
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultConfig().LoadTimeout
	}
	if cfg.DetectAttempts <= 0 {
		cfg.DetectAttempts = DefaultConfig().DetectAttempts
	}
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = DefaultConfig().DetectInterval
	}
	if log == nil {
		log = logger.Global().WithComponent("session")
	}

	return &Orchestrator{
		port:     port,
		probe:    probe,
		detector: detector,
		injector: injector,
		created:  browsing.NewCreatedRegistry(),
		config:   cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// OpenAndSubmit finds or creates a session at the credentials' origin,
// detects login fields, and injects. Every step failure short-circuits to a
// typed error; sessions created on the way stay tracked regardless of
// outcome so a later successful cycle can still clean them up.
func (o *Orchestrator) OpenAndSubmit(ctx context.Context, c creds.Credentials) (Outcome, error) {
	origin, err := c.Origin()
	if err != nil {
		return Outcome{}, rerr.New(rerr.Unknown, c.LoginURL, "origin", "bad login URL", err)
	}

	// Skip browsing-context churn entirely if connectivity recovered.
	if o.probe.IsInternetUp(ctx) {
		return Outcome{}, rerr.NewAlreadyUp(origin)
	}

	sess, err := o.acquireSession(ctx, c, origin)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		SessionID: sess.ID(),
		Created:   o.created.Contains(sess.ID()),
	}

	found, err := o.detectWithRetry(ctx, sess)
	if err != nil {
		return outcome, err
	}
	if !found {
		return outcome, rerr.NewFieldsNotFound(origin)
	}

	outcome.Result = o.injector.Inject(ctx, sess, c)
	if !outcome.Result.OK {
		if outcome.Result.Error == inject.ErrFieldsNotFound {
			o.log.Event(logger.DebugLevel).
				Str("origin", origin).
				Interface("inputs", outcome.Result.Inputs).
				Msg("Injection found no usable fields")
			return outcome, rerr.NewFieldsNotFound(origin)
		}
		return outcome, rerr.NewInjectionFailed(origin, nil)
	}

	return outcome, nil
}

// acquireSession walks the reuse ladder: an existing session at the origin,
// then the shared probe session (possibly redirected there already, else
// navigated), and as a last resort a fresh background session.
func (o *Orchestrator) acquireSession(ctx context.Context, c creds.Credentials, origin string) (browsing.Session, error) {
	if sess, ok := o.FindAtOrigin(ctx, origin); ok {
		o.log.Debugf("reusing existing session %s at %s", sess.ID(), origin)
		return sess, nil
	}

	if sess := o.probeSessionAtOrigin(ctx, origin); sess != nil {
		return sess, nil
	}

	// Navigate the probe session to the login URL directly, after one more
	// connectivity re-check: a recovered link makes the portal page moot.
	if o.probeSession != nil {
		if o.probe.IsInternetUp(ctx) {
			return nil, rerr.NewAlreadyUp(origin)
		}
		if err := o.probeSession.Navigate(ctx, c.LoginURL); err == nil {
			_ = o.probeSession.WaitLoad(ctx, o.config.LoadTimeout)
			return o.probeSession, nil
		}
		o.log.Debugf("probe session navigation to %s failed, creating fresh session", c.LoginURL)
	}

	sess, err := o.port.Open(ctx, c.LoginURL)
	if err != nil {
		return nil, rerr.NewSessionCreateFailed(origin, err)
	}
	o.created.Add(sess.ID())
	_ = sess.WaitLoad(ctx, o.config.LoadTimeout)
	return sess, nil
}

// probeSessionAtOrigin lazily creates or reuses the single probe session and
// returns it only when it has naturally landed on the portal origin.
func (o *Orchestrator) probeSessionAtOrigin(ctx context.Context, origin string) browsing.Session {
	if o.probeSession == nil {
		if o.now().Sub(o.lastProbeCreate) < o.config.ProbeCooldown {
			return nil
		}
		sess, err := o.port.Open(ctx, o.config.SeedURL)
		if err != nil {
			o.log.WithError(err).Debug("probe session creation failed")
			return nil
		}
		o.probeSession = sess
		o.lastProbeCreate = o.now()
		o.created.Add(sess.ID())
	}

	_ = o.probeSession.WaitLoad(ctx, o.config.LoadTimeout)

	addr, err := o.probeSession.URL(ctx)
	if err != nil {
		// Session died underneath us; drop it and let the next rung create
		// a fresh one subject to the cooldown.
		o.forgetProbeSession()
		return nil
	}
	if o.sameOrigin(addr, origin) {
		return o.probeSession
	}
	return nil
}

// detectWithRetry scans for login fields, reloading once after the first
// miss so client-side portal logic gets a chance to render the form, then
// waiting a fixed interval between further scans.
func (o *Orchestrator) detectWithRetry(ctx context.Context, sess browsing.Session) (bool, error) {
	for attempt := 1; attempt <= o.config.DetectAttempts; attempt++ {
		result, err := o.detector.Detect(ctx, sess)
		if err != nil {
			return false, rerr.NewNoPortalSession("", err)
		}
		if result.Found {
			return true, nil
		}
		if attempt == o.config.DetectAttempts {
			break
		}

		if attempt == 1 {
			if err := sess.Reload(ctx); err == nil {
				_ = sess.WaitLoad(ctx, o.config.LoadTimeout)
				continue
			}
		}
		o.sleep(ctx, o.config.DetectInterval)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}
	return false, nil
}

// FindAtOrigin returns an open session already at the given origin, if any.
// The scheduler uses it to classify keepalive pages before attempting.
func (o *Orchestrator) FindAtOrigin(ctx context.Context, origin string) (browsing.Session, bool) {
	sessions, err := o.port.Sessions(ctx)
	if err != nil {
		return nil, false
	}
	for _, sess := range sessions {
		addr, err := sess.URL(ctx)
		if err != nil {
			continue
		}
		if o.sameOrigin(addr, origin) {
			return sess, true
		}
	}
	return nil, false
}

// CloseCreated closes a session only if the engine created it, and forgets
// it afterwards. Closing a reused pre-existing session is refused.
func (o *Orchestrator) CloseCreated(id string) bool {
	if !o.created.Contains(id) {
		return false
	}

	if o.probeSession != nil && o.probeSession.ID() == id {
		sess := o.probeSession
		o.forgetProbeSession()
		_ = sess.Close()
	} else if sess := o.findByID(id); sess != nil {
		_ = sess.Close()
	}
	o.created.Remove(id)
	return true
}

func (o *Orchestrator) findByID(id string) browsing.Session {
	sessions, err := o.port.Sessions(context.Background())
	if err != nil {
		return nil
	}
	for _, sess := range sessions {
		if sess.ID() == id {
			return sess
		}
	}
	return nil
}

func (o *Orchestrator) forgetProbeSession() {
	o.probeSession = nil
}

// CreatedCount reports how many engine-created sessions are tracked.
func (o *Orchestrator) CreatedCount() int {
	return o.created.Len()
}

func (o *Orchestrator) sameOrigin(addr, origin string) bool {
	got, err := creds.OriginOf(addr)
	return err == nil && got == origin
}
