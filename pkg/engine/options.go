package engine

import (
	"time"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/logger"
	"github.com/portalpilot/portalpilot/internal/notify"
	"github.com/portalpilot/portalpilot/internal/state"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(e *Engine) error {
		e.config = config
		return nil
	}
}

// WithProbeURL sets the connectivity check endpoint.
func WithProbeURL(url string) Option {
	return func(e *Engine) error {
		e.config.Probe.URL = url
		return nil
	}
}

// WithProbeTimeout sets the connectivity check timeout.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		e.config.Probe.Timeout = timeout
		return nil
	}
}

// WithUsernamePattern overrides the username field heuristic.
func WithUsernamePattern(pattern string) Option {
	return func(e *Engine) error {
		e.config.Heuristics.UsernamePattern = pattern
		return nil
	}
}

// WithKeepalivePatterns overrides keepalive page classification.
func WithKeepalivePatterns(urlToken, textPattern string) Option {
	return func(e *Engine) error {
		e.config.Heuristics.KeepaliveURLToken = urlToken
		e.config.Heuristics.KeepaliveTextPattern = textPattern
		return nil
	}
}

// WithStatePath sets the credential database path.
func WithStatePath(path string) Option {
	return func(e *Engine) error {
		e.config.StatePath = path
		return nil
	}
}

// WithNotifyListenAddr enables the WebSocket notification feed.
func WithNotifyListenAddr(addr string) Option {
	return func(e *Engine) error {
		e.config.Notify.ListenAddr = addr
		return nil
	}
}

// WithNotifyWindow sets the notification rate window.
func WithNotifyWindow(window time.Duration) Option {
	return func(e *Engine) error {
		e.config.Notify.Window = window
		return nil
	}
}

// WithHeadless enables/disables headless mode.
func WithHeadless(headless bool) Option {
	return func(e *Engine) error {
		e.config.Browser.Headless = headless
		return nil
	}
}

// WithBrowserControlURL attaches to an already running browser instead of
// launching one.
func WithBrowserControlURL(url string) Option {
	return func(e *Engine) error {
		e.config.Browser.ControlURL = url
		return nil
	}
}

// WithPort injects a browsing port, bypassing browser launch. Used by tests
// and embedders with their own browser management.
func WithPort(port browsing.Port) Option {
	return func(e *Engine) error {
		e.port = port
		return nil
	}
}

// WithStore injects a credential store.
func WithStore(s state.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithNotifier registers an additional notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) error {
		e.extraSinks = append(e.extraSinks, n)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(e *Engine) error {
		e.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(e *Engine) error {
		e.config.Debug = debug
		return nil
	}
}
