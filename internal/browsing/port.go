// Package browsing defines the capability surface the engine needs from a
// host browser. Any implementation able to open tabs, list them, navigate,
// snapshot frame content, and run script in a frame can satisfy it.
package browsing

import (
	"context"
	"time"
)

// Frame is a snapshot of one document: the top page or a nested frame.
type Frame struct {
	DocURL string
	HTML   string
}

// Session is one browsing context (a tab or background page).
type Session interface {
	// ID identifies the session for registry bookkeeping.
	ID() string

	// URL returns the session's current address.
	URL(ctx context.Context) (string, error)

	// VisibleText returns the page's rendered text content.
	VisibleText(ctx context.Context) (string, error)

	// Frames snapshots the top document and every nested frame.
	Frames(ctx context.Context) ([]Frame, error)

	// Navigate points the session at a URL.
	Navigate(ctx context.Context, url string) error

	// WaitLoad blocks until the session finishes loading or the timeout expires.
	WaitLoad(ctx context.Context, timeout time.Duration) error

	// Reload reloads the current document.
	Reload(ctx context.Context) error

	// Eval runs a script inside the given frame (0 = top document) and
	// returns its JSON-encoded result.
	Eval(ctx context.Context, frameIndex int, js string) (string, error)

	// Close destroys the session. Only engine-created sessions may be closed.
	Close() error
}

// Port is the host browser capability.
type Port interface {
	// Sessions lists the currently open sessions.
	Sessions(ctx context.Context) ([]Session, error)

	// Open creates a new background session at the given URL.
	Open(ctx context.Context, url string) (Session, error)
}
