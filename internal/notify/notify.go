// Package notify delivers user-facing notifications about login attempts,
// with per-origin rate limiting so a flapping network does not spam.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portalpilot/portalpilot/internal/logger"
)

// Class identifies the kind of notification.
type Class string

const (
	// ClassLocked means a portal was seen but no credentials are
	// configured for its origin, so the user has to act.
	ClassLocked Class = "credentials_required"

	// ClassLoginSucceeded means an automated login restored connectivity.
	ClassLoginSucceeded Class = "login_succeeded"
)

// DefaultWindow is the minimum gap between notifications of the same class
// for the same origin.
const DefaultWindow = 3 * time.Minute

// Notification is one user-facing event.
type Notification struct {
	Class     Class     `json:"class"`
	Origin    string    `json:"origin"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Locked builds the notification asking the user to configure credentials.
func Locked(origin string) Notification {
	return Notification{
		Class:     ClassLocked,
		Origin:    origin,
		Message:   "Captive portal detected but no credentials are configured. Set credentials to enable automatic login.",
		Timestamp: time.Now(),
	}
}

// LoginSucceeded builds the notification announcing restored connectivity.
func LoginSucceeded(origin string) Notification {
	return Notification{
		Class:     ClassLoginSucceeded,
		Origin:    origin,
		Message:   "Portal login succeeded. Internet access is available.",
		Timestamp: time.Now(),
	}
}

// Notifier delivers notifications. Implementations must tolerate being
// called concurrently.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// ============================================================================
// Log notifier
// ============================================================================

// LogNotifier writes notifications to the structured log. It is the fallback
// sink that is always present.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Global().WithComponent("notify")
	}
	return &LogNotifier{log: log}
}

// Notify logs the notification at a level matching its class.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	evt := l.log.Event(logger.InfoLevel)
	if n.Class == ClassLocked {
		evt = l.log.Event(logger.WarnLevel)
	}
	evt.
		Str("class", string(n.Class)).
		Str("origin", n.Origin).
		Msg(n.Message)
}

// ============================================================================
// Rate limiting
// ============================================================================

// Limiter throttles notifications per origin and class using token buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	window  time.Duration
}

// NewLimiter creates a limiter allowing one notification per window for
// each origin/class pair.
func NewLimiter(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		window:  window,
	}
}

// Allow reports whether a notification for the origin and class may be
// delivered now, consuming a token if so.
func (l *Limiter) Allow(origin string, class Class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := origin + "|" + string(class)
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(l.window), 1)
		l.buckets[key] = bucket
	}
	return bucket.Allow()
}

// Reset clears the bucket for an origin and class so the next notification
// goes through immediately. Used when credentials change.
func (l *Limiter) Reset(origin string, class Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, origin+"|"+string(class))
}

// ============================================================================
// Dispatcher
// ============================================================================

// Dispatcher fans notifications out to all registered sinks, applying the
// rate limit first.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []Notifier
	limiter *Limiter
	log     *logger.Logger
}

// NewDispatcher creates a dispatcher with the given rate window.
func NewDispatcher(window time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Global().WithComponent("notify")
	}
	return &Dispatcher{
		limiter: NewLimiter(window),
		log:     log,
	}
}

// AddSink registers a delivery sink.
func (d *Dispatcher) AddSink(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, n)
}

// Notify delivers the notification to every sink unless the origin/class
// pair is inside its rate window.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if !d.limiter.Allow(n.Origin, n.Class) {
		d.log.Debugf("notification suppressed by rate limit: %s %s", n.Class, n.Origin)
		return
	}

	d.mu.RLock()
	sinks := append([]Notifier{}, d.sinks...)
	d.mu.RUnlock()

	for _, sink := range sinks {
		sink.Notify(ctx, n)
	}
}

// ResetLimit clears the rate window for an origin and class.
func (d *Dispatcher) ResetLimit(origin string, class Class) {
	d.limiter.Reset(origin, class)
}
