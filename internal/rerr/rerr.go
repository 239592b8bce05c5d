// Package rerr provides error kinds and handling for the remediation engine.
package rerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes remediation failures for backoff and reporting decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// AlreadyUp means the internet was reachable; benign, not a failure.
	AlreadyUp
	// Locked means no credentials are configured.
	Locked
	// NoPortalSession means no browsing session could reach the portal origin.
	NoPortalSession
	// FieldsNotFound means no frame yielded a usable login form.
	FieldsNotFound
	// InjectionFailed means fields were found but filling/submitting failed.
	InjectionFailed
	// SessionCreateFailed means a browsing session could not be created.
	SessionCreateFailed
	// KeepaliveSuppressed means the portal page is a session keepalive, not a login.
	KeepaliveSuppressed
	// Network represents network-level errors on probe or navigation.
	Network
	// Timeout represents bounded waits that expired.
	Timeout
	// Internal represents a recovered unexpected error.
	Internal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case AlreadyUp:
		return "already_up"
	case Locked:
		return "locked"
	case NoPortalSession:
		return "no_portal_session"
	case FieldsNotFound:
		return "fields_not_found"
	case InjectionFailed:
		return "injection_failed"
	case SessionCreateFailed:
		return "session_create_failed"
	case KeepaliveSuppressed:
		return "keepalive_suppressed"
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// CountsAsFailure reports whether this kind escalates the origin's backoff.
// AlreadyUp is a benign outcome and KeepaliveSuppressed follows the keepalive
// override path instead of the failure path.
func (k Kind) CountsAsFailure() bool {
	switch k {
	case AlreadyUp, KeepaliveSuppressed:
		return false
	default:
		return true
	}
}

// Error is a categorized remediation error.
type Error struct {
	Kind      Kind
	Origin    string
	Operation string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Kind.String(), e.Operation, e.Origin, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Kind.String(), e.Operation, e.Origin, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new Error.
func New(kind Kind, origin, operation, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Origin:    origin,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewAlreadyUp reports that connectivity was already restored.
func NewAlreadyUp(origin string) *Error {
	return New(AlreadyUp, origin, "probe", "internet already reachable", nil)
}

// NewLocked reports that no credentials are cached.
func NewLocked() *Error {
	return New(Locked, "", "config", "no credentials configured", nil)
}

// NewNoPortalSession reports that no session reached the portal origin.
func NewNoPortalSession(origin string, cause error) *Error {
	return New(NoPortalSession, origin, "session", "no browsing session at portal origin", cause)
}

// NewFieldsNotFound reports that no scanned frame held a usable login form.
func NewFieldsNotFound(origin string) *Error {
	return New(FieldsNotFound, origin, "detect", "no login fields found in any frame", nil)
}

// NewInjectionFailed reports a fill/submit failure.
func NewInjectionFailed(origin string, cause error) *Error {
	return New(InjectionFailed, origin, "inject", "credential injection failed", cause)
}

// NewSessionCreateFailed reports a session creation failure.
func NewSessionCreateFailed(origin string, cause error) *Error {
	return New(SessionCreateFailed, origin, "session_create", "could not create browsing session", cause)
}

// NewKeepaliveSuppressed reports that the portal page is a keepalive page.
func NewKeepaliveSuppressed(origin string) *Error {
	return New(KeepaliveSuppressed, origin, "classify", "portal page is a session keepalive", nil)
}

// NewTimeout reports an expired bounded wait.
func NewTimeout(origin, operation string, cause error) *Error {
	return New(Timeout, origin, operation, "operation timed out", cause)
}

// NewInternal wraps a recovered unexpected error.
func NewInternal(origin, operation string, cause error) *Error {
	return New(Internal, origin, operation, "unexpected internal error", cause)
}

// Categorize determines the error kind from a generic error.
func Categorize(err error, origin string) *Error {
	if err == nil {
		return nil
	}

	var remErr *Error
	if errors.As(err, &remErr) {
		return remErr
	}

	if errors.Is(err, context.Canceled) {
		return New(Internal, origin, "attempt", "operation cancelled", err)
	}

	if isTimeout(err) {
		return NewTimeout(origin, "attempt", err)
	}

	if isNetworkError(err) {
		return New(Network, origin, "attempt", "network failure", err)
	}

	return New(Unknown, origin, "attempt", err.Error(), err)
}

// KindOf extracts the kind from an error, Unknown if untyped.
func KindOf(err error) Kind {
	var remErr *Error
	if errors.As(err, &remErr) {
		return remErr.Kind
	}
	return Unknown
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "dial tcp")
}
