// Package backoff implements the per-origin retry policy for remediation attempts.
package backoff

import (
	"sync"
	"time"
)

// Policy constants. Delays are in whole seconds, matching the state machine:
// first failure waits 2s, then doubles to the 16s ceiling, grows to 60s past
// it, and collapses to a steady 5s once an origin has failed persistently.
const (
	InitialDelay     = 2 * time.Second
	FirstCeiling     = 16 * time.Second
	SecondCeiling    = 60 * time.Second
	SteadyDelay      = 5 * time.Second
	KeepaliveDelay   = 5 * time.Second
	SteadyThreshold  = 6
)

// OriginState tracks retry state for one portal origin.
// Created lazily on first use, reset (not destroyed) on success.
type OriginState struct {
	Backoff                time.Duration
	FailedAttempts         int
	LastSuccessNotifiedAt  time.Time
	inFlight               int
}

// Registry holds per-origin state, keyed by URL origin (scheme+host+port).
// All access is serialized; the scheduler shares one registry across triggers.
type Registry struct {
	mu      sync.Mutex
	origins map[string]*OriginState
}

// NewRegistry creates an empty origin-state registry.
func NewRegistry() *Registry {
	return &Registry{
		origins: make(map[string]*OriginState),
	}
}

// get returns the state for an origin, creating it if absent.
// Caller must hold r.mu.
func (r *Registry) get(origin string) *OriginState {
	st, ok := r.origins[origin]
	if !ok {
		st = &OriginState{}
		r.origins[origin] = st
	}
	return st
}

// Delay returns the current backoff delay for an origin.
func (r *Registry) Delay(origin string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(origin).Backoff
}

// FailedAttempts returns the consecutive failure count for an origin.
func (r *Registry) FailedAttempts(origin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(origin).FailedAttempts
}

// RecordSuccess resets the origin to its initial state.
func (r *Registry) RecordSuccess(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(origin)
	st.Backoff = 0
	st.FailedAttempts = 0
}

// RecordFailure escalates the origin's backoff and returns the new delay.
//
// Doubling runs 2, 4, 8, 16; past the 16s ceiling growth continues up to
// 60s. Once the origin has accumulated SteadyThreshold consecutive failures
// the delay collapses to a gentle steady poll instead: a persistently
// failing portal gains nothing from aggressive exponential growth.
func (r *Registry) RecordFailure(origin string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(origin)
	st.FailedAttempts++

	switch {
	case st.FailedAttempts >= SteadyThreshold:
		st.Backoff = SteadyDelay
	case st.Backoff == 0:
		st.Backoff = InitialDelay
	case st.Backoff >= FirstCeiling:
		st.Backoff *= 2
		if st.Backoff > SecondCeiling {
			st.Backoff = SecondCeiling
		}
	default:
		st.Backoff *= 2
		if st.Backoff > FirstCeiling {
			st.Backoff = FirstCeiling
		}
	}

	return st.Backoff
}

// RecordKeepalive applies the keepalive override: a short fixed retry delay
// without counting a failure, since a keepalive page is expected and recurring.
func (r *Registry) RecordKeepalive(origin string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(origin)
	st.Backoff = KeepaliveDelay
	return st.Backoff
}

// TryAcquire marks the origin in-flight for a non-forced attempt.
// It fails when any attempt already holds the origin.
func (r *Registry) TryAcquire(origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(origin)
	if st.inFlight > 0 {
		return false
	}
	st.inFlight++
	return true
}

// ForceAcquire marks the origin in-flight for a forced attempt.
// Forced attempts proceed regardless of concurrent holders; each holder
// releases only its own acquisition.
func (r *Registry) ForceAcquire(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(origin).inFlight++
}

// Release clears one in-flight hold on the origin.
func (r *Registry) Release(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(origin)
	if st.inFlight > 0 {
		st.inFlight--
	}
}

// InFlight reports whether any attempt currently holds the origin.
func (r *Registry) InFlight(origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(origin).inFlight > 0
}

// LastSuccessNotified returns when a success notification last fired for the origin.
func (r *Registry) LastSuccessNotified(origin string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(origin).LastSuccessNotifiedAt
}

// MarkSuccessNotified records that a success notification fired now.
func (r *Registry) MarkSuccessNotified(origin string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(origin).LastSuccessNotifiedAt = at
}

// Snapshot returns a copy of the state for an origin, for status reporting.
func (r *Registry) Snapshot(origin string) OriginState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.get(origin)
}
