// Package metrics provides counters for login attempts, probes, and
// notifications.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates engine metrics.
type Collector struct {
	// Counters
	probesTotal        atomic.Int64
	probeFailures      atomic.Int64
	attemptsTotal      atomic.Int64
	attemptSuccesses   atomic.Int64
	attemptFailures    atomic.Int64
	keepaliveSkips     atomic.Int64
	forcedAttempts     atomic.Int64
	portalsObserved    atomic.Int64
	notificationsSent  atomic.Int64

	// Attempt duration tracking
	attemptTimeSum atomic.Int64
	attemptTimeNum atomic.Int64

	// Last transition timestamps (unix nanos, 0 when never)
	lastSuccess atomic.Int64
	lastFailure atomic.Int64

	// Failure breakdown by error kind
	failureCounts map[string]*atomic.Int64
	failureMu     sync.RWMutex

	startTime time.Time
}

// New creates a metrics collector.
func New() *Collector {
	return &Collector{
		failureCounts: make(map[string]*atomic.Int64),
		startTime:     time.Now(),
	}
}

// RecordProbe records one connectivity probe and its verdict.
func (c *Collector) RecordProbe(up bool) {
	c.probesTotal.Add(1)
	if !up {
		c.probeFailures.Add(1)
	}
}

// RecordAttempt records the start of a login attempt.
func (c *Collector) RecordAttempt(forced bool) {
	c.attemptsTotal.Add(1)
	if forced {
		c.forcedAttempts.Add(1)
	}
}

// RecordSuccess records a login attempt that restored connectivity.
func (c *Collector) RecordSuccess(d time.Duration) {
	c.attemptSuccesses.Add(1)
	c.attemptTimeSum.Add(d.Milliseconds())
	c.attemptTimeNum.Add(1)
	c.lastSuccess.Store(time.Now().UnixNano())
}

// RecordFailure records a failed login attempt with its error kind.
func (c *Collector) RecordFailure(kind string) {
	c.attemptFailures.Add(1)
	c.lastFailure.Store(time.Now().UnixNano())

	c.failureMu.Lock()
	if c.failureCounts[kind] == nil {
		c.failureCounts[kind] = &atomic.Int64{}
	}
	c.failureCounts[kind].Add(1)
	c.failureMu.Unlock()
}

// RecordKeepaliveSkip records an attempt suppressed by a live keepalive page.
func (c *Collector) RecordKeepaliveSkip() {
	c.keepaliveSkips.Add(1)
}

// RecordPortalObserved records an externally reported portal sighting.
func (c *Collector) RecordPortalObserved() {
	c.portalsObserved.Add(1)
}

// RecordNotification records a dispatched notification.
func (c *Collector) RecordNotification() {
	c.notificationsSent.Add(1)
}

// AverageAttemptTime returns the mean duration of successful attempts.
func (c *Collector) AverageAttemptTime() time.Duration {
	sum := c.attemptTimeSum.Load()
	num := c.attemptTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time view of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(c.startTime),
		ProbesTotal:        c.probesTotal.Load(),
		ProbeFailures:      c.probeFailures.Load(),
		AttemptsTotal:      c.attemptsTotal.Load(),
		AttemptSuccesses:   c.attemptSuccesses.Load(),
		AttemptFailures:    c.attemptFailures.Load(),
		KeepaliveSkips:     c.keepaliveSkips.Load(),
		ForcedAttempts:     c.forcedAttempts.Load(),
		PortalsObserved:    c.portalsObserved.Load(),
		NotificationsSent:  c.notificationsSent.Load(),
		AverageAttemptTime: c.AverageAttemptTime(),
		FailureCounts:      make(map[string]int64),
	}

	if ns := c.lastSuccess.Load(); ns != 0 {
		t := time.Unix(0, ns)
		s.LastSuccess = &t
	}
	if ns := c.lastFailure.Load(); ns != 0 {
		t := time.Unix(0, ns)
		s.LastFailure = &t
	}

	c.failureMu.RLock()
	for k, v := range c.failureCounts {
		s.FailureCounts[k] = v.Load()
	}
	c.failureMu.RUnlock()

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.probesTotal.Store(0)
	c.probeFailures.Store(0)
	c.attemptsTotal.Store(0)
	c.attemptSuccesses.Store(0)
	c.attemptFailures.Store(0)
	c.keepaliveSkips.Store(0)
	c.forcedAttempts.Store(0)
	c.portalsObserved.Store(0)
	c.notificationsSent.Store(0)
	c.attemptTimeSum.Store(0)
	c.attemptTimeNum.Store(0)
	c.lastSuccess.Store(0)
	c.lastFailure.Store(0)

	c.failureMu.Lock()
	c.failureCounts = make(map[string]*atomic.Int64)
	c.failureMu.Unlock()

	c.startTime = time.Now()
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp          time.Time        `json:"timestamp"`
	Uptime             time.Duration    `json:"uptime"`
	ProbesTotal        int64            `json:"probes_total"`
	ProbeFailures      int64            `json:"probe_failures"`
	AttemptsTotal      int64            `json:"attempts_total"`
	AttemptSuccesses   int64            `json:"attempt_successes"`
	AttemptFailures    int64            `json:"attempt_failures"`
	KeepaliveSkips     int64            `json:"keepalive_skips"`
	ForcedAttempts     int64            `json:"forced_attempts"`
	PortalsObserved    int64            `json:"portals_observed"`
	NotificationsSent  int64            `json:"notifications_sent"`
	AverageAttemptTime time.Duration    `json:"average_attempt_time"`
	LastSuccess        *time.Time       `json:"last_success,omitempty"`
	LastFailure        *time.Time       `json:"last_failure,omitempty"`
	FailureCounts      map[string]int64 `json:"failure_counts"`
}

// SuccessRate returns successes / attempts.
func (s *Snapshot) SuccessRate() float64 {
	if s.AttemptsTotal == 0 {
		return 0
	}
	return float64(s.AttemptSuccesses) / float64(s.AttemptsTotal)
}
