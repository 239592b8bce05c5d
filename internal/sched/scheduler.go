// Package sched decides when login attempts run: it guards per-origin
// exclusivity, applies backoff, short-circuits on restored connectivity and
// keepalive pages, and turns outcomes into backoff state and notifications.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/portalpilot/portalpilot/internal/backoff"
	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/keepalive"
	"github.com/portalpilot/portalpilot/internal/logger"
	"github.com/portalpilot/portalpilot/internal/metrics"
	"github.com/portalpilot/portalpilot/internal/notify"
	"github.com/portalpilot/portalpilot/internal/probe"
	"github.com/portalpilot/portalpilot/internal/rerr"
	"github.com/portalpilot/portalpilot/internal/session"
)

// ErrAttemptInFlight is returned when a non-forced attempt finds another
// attempt already running for the same origin.
var ErrAttemptInFlight = errors.New("attempt already in flight for origin")

// SettleDelay is how long the scheduler waits after injection before
// verifying connectivity, giving the portal time to grant access.
const SettleDelay = 2 * time.Second

// PeriodicInterval is the cadence of the background check loop.
const PeriodicInterval = time.Minute

// observedCapacity sizes the duplicate filter for portal-observed URLs.
const observedCapacity = 10000

// CredentialSource supplies the currently configured credentials, or nil
// when none are set.
type CredentialSource interface {
	Current() *creds.Credentials
}

// Prober is the connectivity check the scheduler consults.
type Prober interface {
	IsInternetUp(ctx context.Context) bool
	Check(ctx context.Context) probe.Status
}

// Attempter runs a single login attempt against the portal. Implemented by
// session.Orchestrator.
type Attempter interface {
	OpenAndSubmit(ctx context.Context, c creds.Credentials) (session.Outcome, error)
	FindAtOrigin(ctx context.Context, origin string) (browsing.Session, bool)
}

// SessionCloser closes engine-created sessions after a successful login.
type SessionCloser interface {
	CloseCreated(id string) bool
}

// Scheduler coordinates login attempts.
type Scheduler struct {
	creds      CredentialSource
	prober     Prober
	attempter  Attempter
	closer     SessionCloser
	classifier *keepalive.Classifier
	registry   *backoff.Registry
	notifier   notify.Notifier
	metrics    *metrics.Collector
	log        *logger.Logger

	mu       sync.Mutex
	observed *bloom.BloomFilter

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a scheduler.
func New(src CredentialSource, prober Prober, attempter Attempter, closer SessionCloser, classifier *keepalive.Classifier, notifier notify.Notifier, log *logger.Logger) *Scheduler {
	if classifier == nil {
		classifier = keepalive.NewDefault()
	}
	if log == nil {
		log = logger.Global().WithComponent("sched")
	}
	return &Scheduler{
		creds:      src,
		prober:     prober,
		attempter:  attempter,
		closer:     closer,
		classifier: classifier,
		registry:   backoff.NewRegistry(),
		notifier:   notifier,
		metrics:    metrics.New(),
		log:        log,
		observed:   bloom.NewWithEstimates(observedCapacity, 0.01),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Backoff exposes the registry for status reporting.
func (s *Scheduler) Backoff() *backoff.Registry {
	return s.registry
}

// Metrics returns a snapshot of attempt and probe counters.
func (s *Scheduler) Metrics() *metrics.Snapshot {
	return s.metrics.Snapshot()
}

// internetUp probes connectivity and records the verdict.
func (s *Scheduler) internetUp(ctx context.Context) bool {
	up := s.prober.IsInternetUp(ctx)
	s.metrics.RecordProbe(up)
	return up
}

// Attempt runs one login attempt. Forced attempts skip the connectivity
// short-circuit and the backoff wait and always get the in-flight slot.
// A nil return means the attempt restored connectivity.
func (s *Scheduler) Attempt(ctx context.Context, forced bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("attempt panicked: %v", r)
			err = rerr.NewInternal("", "attempt", fmt.Errorf("panic: %v", r))
		}
	}()

	if !forced && s.internetUp(ctx) {
		return rerr.NewAlreadyUp("")
	}

	active := s.creds.Current()
	if active == nil {
		s.notifyLockedFromProbe(ctx)
		return rerr.NewLocked()
	}
	c := *active

	origin, oerr := c.Origin()
	if oerr != nil {
		return rerr.New(rerr.Unknown, c.LoginURL, "attempt", "bad login URL", oerr)
	}

	if forced {
		s.registry.ForceAcquire(origin)
	} else if !s.registry.TryAcquire(origin) {
		return ErrAttemptInFlight
	}
	defer s.registry.Release(origin)

	s.metrics.RecordAttempt(forced)
	start := time.Now()
	err = s.runAttempt(ctx, c, origin, forced)
	s.recordOutcome(time.Since(start), err)
	s.log.AttemptEvent(origin, forced, s.registry.Delay(origin), time.Since(start), err)
	return err
}

func (s *Scheduler) recordOutcome(d time.Duration, err error) {
	kind := rerr.KindOf(err)
	switch {
	case err == nil:
		s.metrics.RecordSuccess(d)
	case kind == rerr.KeepaliveSuppressed:
		s.metrics.RecordKeepaliveSkip()
	case kind.CountsAsFailure():
		s.metrics.RecordFailure(kind.String())
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, c creds.Credentials, origin string, forced bool) error {
	if !forced {
		if delay := s.registry.Delay(origin); delay > 0 {
			s.sleep(ctx, delay)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The link may have come back while we waited.
			if s.internetUp(ctx) {
				s.registry.RecordSuccess(origin)
				return rerr.NewAlreadyUp(origin)
			}
		}
	}

	// A keepalive page at the origin means a login is live; forcing another
	// submission would tear the session down.
	if page, ok := s.attempter.FindAtOrigin(ctx, origin); ok {
		if s.classifier.IsKeepalive(ctx, page) {
			s.registry.RecordKeepalive(origin)
			return rerr.NewKeepaliveSuppressed(origin)
		}
	}

	outcome, err := s.attempter.OpenAndSubmit(ctx, c)
	if err != nil {
		return s.concludeFailure(ctx, origin, outcome, err)
	}

	s.sleep(ctx, SettleDelay)
	if s.internetUp(ctx) {
		s.concludeSuccess(ctx, origin, outcome)
		return nil
	}

	return s.concludeFailure(ctx, origin, outcome,
		rerr.New(rerr.Network, origin, "verify", "connectivity still down after injection", nil))
}

// concludeSuccess resets backoff, notifies, and cleans up any session the
// engine created for the attempt.
func (s *Scheduler) concludeSuccess(ctx context.Context, origin string, outcome session.Outcome) {
	s.registry.RecordSuccess(origin)
	s.clearObserved()

	if outcome.Created && outcome.SessionID != "" {
		s.closer.CloseCreated(outcome.SessionID)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.LoginSucceeded(origin))
		s.metrics.RecordNotification()
		s.registry.MarkSuccessNotified(origin, time.Now())
	}
}

// concludeFailure records the failure, then covers the race where the portal
// granted access concurrently with our error: finding the link up flips the
// attempt onto the regular success path, session cleanup included.
func (s *Scheduler) concludeFailure(ctx context.Context, origin string, outcome session.Outcome, cause error) error {
	if !rerr.KindOf(cause).CountsAsFailure() {
		return cause
	}

	s.registry.RecordFailure(origin)

	if s.internetUp(ctx) {
		s.concludeSuccess(ctx, origin, outcome)
		return nil
	}
	return cause
}

// unknownOrigin keys locked notifications when the intercepting portal does
// not reveal its address; the rate limiter still needs a stable key.
const unknownOrigin = "unknown"

// notifyLockedFromProbe raises the credentials-required notification for an
// attempt with no cached configuration, naming the intercepting portal when
// the probe could learn its address.
func (s *Scheduler) notifyLockedFromProbe(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	status := s.prober.Check(ctx)
	if status.Up {
		return
	}
	origin := unknownOrigin
	if status.PortalURL != "" {
		if o, err := creds.OriginOf(status.PortalURL); err == nil {
			origin = o
		}
	}
	s.notifier.Notify(ctx, notify.Locked(origin))
	s.metrics.RecordNotification()
}

// ReportPortalObserved ingests a portal URL sighted outside the engine, for
// example by a DNS or HTTP interception hint. It triggers an attempt only
// when the URL matches the configured origin, and deduplicates sightings of
// the same URL until the next successful login.
func (s *Scheduler) ReportPortalObserved(ctx context.Context, portalURL string) error {
	if s.seenObserved(portalURL) {
		return nil
	}
	s.metrics.RecordPortalObserved()

	active := s.creds.Current()
	if active == nil {
		origin, err := creds.OriginOf(portalURL)
		if err == nil && s.notifier != nil {
			s.notifier.Notify(ctx, notify.Locked(origin))
			s.metrics.RecordNotification()
		}
		return rerr.NewLocked()
	}

	if !creds.SameOrigin(portalURL, active.LoginURL) {
		return rerr.New(rerr.NoPortalSession, portalURL, "report",
			"observed portal does not match configured origin", nil)
	}

	return s.Attempt(ctx, false)
}

func (s *Scheduler) seenObserved(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed.TestOrAdd([]byte(url))
}

func (s *Scheduler) clearObserved() {
	s.mu.Lock()
	s.observed.ClearAll()
	s.mu.Unlock()
}

// Run drives the periodic check loop until the context ends. Each tick is a
// regular non-forced attempt, so all short-circuits apply.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Attempt(ctx, false); err != nil {
				kind := rerr.KindOf(err)
				if kind != rerr.AlreadyUp && !errors.Is(err, ErrAttemptInFlight) {
					s.log.Debugf("periodic attempt: %v", err)
				}
			}
		}
	}
}
