// Package browser provides headless Chrome integration via Rod, exposing
// open tabs as portal login sessions.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/logger"
)

// maxFrameDepth bounds iframe recursion; portals rarely nest deeper.
const maxFrameDepth = 3

// Config defines browser configuration.
type Config struct {
	Headless          bool          `json:"headless" yaml:"headless"`
	ControlURL        string        `json:"control_url" yaml:"control_url"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent         string        `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height" yaml:"viewport_height"`
	IgnoreHTTPSErrors bool          `json:"ignore_https_errors" yaml:"ignore_https_errors"`

	// ExtraHeaders are sent with every request from engine-created tabs.
	// Some portals key their flow on vendor headers.
	ExtraHeaders map[string]string `json:"extra_headers" yaml:"extra_headers"`
}

// DefaultConfig returns default browser configuration. Captive portals
// frequently sit behind self-signed certificates, so HTTPS errors are
// ignored by default.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		Timeout:           30 * time.Second,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		IgnoreHTTPSErrors: true,
	}
}

// Browser wraps a Rod browser instance and implements browsing.Port.
type Browser struct {
	browser *rod.Browser
	config  Config
	log     *logger.Logger
}

// New launches (or attaches to) a browser.
func New(config Config, log *logger.Logger) (*Browser, error) {
	if log == nil {
		log = logger.Global().WithComponent("browser")
	}

	controlURL := config.ControlURL
	if controlURL == "" {
		l := launcher.New()
		if config.Headless {
			l = l.Headless(true)
		}
		if config.IgnoreHTTPSErrors {
			l = l.Set("ignore-certificate-errors", "true")
		}

		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b = b.Timeout(config.Timeout)

	return &Browser{
		browser: b,
		config:  config,
		log:     log,
	}, nil
}

// Sessions lists the currently open tabs.
func (b *Browser) Sessions(ctx context.Context) ([]browsing.Session, error) {
	pages, err := b.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	sessions := make([]browsing.Session, 0, len(pages))
	for _, page := range pages {
		sessions = append(sessions, b.wrap(page))
	}
	return sessions, nil
}

// Open creates a new background tab at the given URL.
func (b *Browser) Open(ctx context.Context, url string) (browsing.Session, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{
		URL:        url,
		Background: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  b.config.ViewportWidth,
		Height: b.config.ViewportHeight,
	})
	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{
			UserAgent: b.config.UserAgent,
		}.Call(page)
	}
	if len(b.config.ExtraHeaders) > 0 {
		headers := make(proto.NetworkHeaders)
		for k, v := range b.config.ExtraHeaders {
			headers[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(page)
	}

	return b.wrap(page), nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	return b.browser.Close()
}

func (b *Browser) wrap(page *rod.Page) *PageSession {
	return &PageSession{page: page, log: b.log}
}

// PageSession adapts a Rod page to browsing.Session.
type PageSession struct {
	page *rod.Page
	log  *logger.Logger
}

// ID returns the CDP target identifier.
func (s *PageSession) ID() string {
	return string(s.page.TargetID)
}

// URL returns the page's current address.
func (s *PageSession) URL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}
	return info.URL, nil
}

// VisibleText returns the rendered text of the page body.
func (s *PageSession) VisibleText(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return res.Value.Str(), nil
}

// Frames returns the page document plus every reachable iframe document, in
// depth-first order. The same ordering is used by Eval's frame index.
func (s *PageSession) Frames(ctx context.Context) ([]browsing.Frame, error) {
	pages, err := s.framePages(ctx)
	if err != nil {
		return nil, err
	}

	frames := make([]browsing.Frame, 0, len(pages))
	for _, p := range pages {
		var docURL string
		if info, err := p.Info(); err == nil {
			docURL = info.URL
		}
		html, err := p.HTML()
		if err != nil {
			// Cross-origin frames can refuse us; an empty placeholder keeps
			// the slot so indexes into the result stay aligned with Eval's.
			s.log.WithError(err).Debug("frame content unavailable")
		}
		frames = append(frames, snapshotFrame(docURL, html, err))
	}
	return frames, nil
}

// snapshotFrame builds the entry for one document. Unreadable content yields
// an empty-HTML placeholder rather than dropping the frame: position i in the
// result must address the same document as Eval's frame index i.
func snapshotFrame(docURL, html string, htmlErr error) browsing.Frame {
	if htmlErr != nil {
		return browsing.Frame{DocURL: docURL}
	}
	return browsing.Frame{DocURL: docURL, HTML: html}
}

// Navigate loads a new URL in the tab.
func (s *PageSession) Navigate(ctx context.Context, url string) error {
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitLoad blocks until the page fires its load event or the timeout ends.
func (s *PageSession) WaitLoad(ctx context.Context, timeout time.Duration) error {
	return s.page.Context(ctx).Timeout(timeout).WaitLoad()
}

// Reload reloads the tab.
func (s *PageSession) Reload(ctx context.Context) error {
	return s.page.Context(ctx).Reload()
}

// Eval runs a JavaScript expression in the chosen frame and returns the
// JSON-encoded result. Frame index 0 is the top document.
func (s *PageSession) Eval(ctx context.Context, frameIndex int, js string) (string, error) {
	pages, err := s.framePages(ctx)
	if err != nil {
		return "", err
	}
	if frameIndex < 0 || frameIndex >= len(pages) {
		return "", fmt.Errorf("frame index %d out of range (have %d)", frameIndex, len(pages))
	}

	res, err := pages[frameIndex].Context(ctx).Eval("() => (" + js + "\n)")
	if err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}
	return res.Value.JSON("", ""), nil
}

// Close closes the tab.
func (s *PageSession) Close() error {
	return s.page.Close()
}

// framePages collects the top page and nested iframe pages depth-first.
func (s *PageSession) framePages(ctx context.Context) ([]*rod.Page, error) {
	top := s.page.Context(ctx)
	pages := []*rod.Page{top}
	s.collectFrames(top, &pages, 0)
	return pages, nil
}

func (s *PageSession) collectFrames(page *rod.Page, pages *[]*rod.Page, depth int) {
	if depth >= maxFrameDepth {
		return
	}

	elements, err := page.Elements("iframe")
	if err != nil {
		return
	}
	for _, el := range elements {
		frame, err := el.Frame()
		if err != nil {
			continue
		}
		*pages = append(*pages, frame)
		s.collectFrames(frame, pages, depth+1)
	}
}
