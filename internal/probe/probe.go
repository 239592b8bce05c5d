// Package probe implements the authoritative internet reachability check.
//
// A GET against a generate-204 endpoint answers with an empty 204 when the
// network is unintercepted. A captive portal instead substitutes a redirect
// or its own content, so any non-204 answer (or any error) counts as down.
// Raw socket reachability cannot make that distinction.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/portalpilot/portalpilot/internal/logger"
)

// Defaults.
const (
	DefaultProbeURL   = "http://connectivitycheck.gstatic.com/generate_204"
	DefaultTimeout    = 2000 * time.Millisecond
	DefaultRetryDelay = 300 * time.Millisecond
	defaultUserAgent  = "PortalPilot/1.0 (connectivity probe)"

	// Portals sometimes substitute large branded pages; reading a little is
	// enough to find a redirect target.
	maxBodyBytes = 256 * 1024
)

// Config holds probe configuration.
type Config struct {
	ProbeURL   string
	Timeout    time.Duration
	RetryDelay time.Duration
	UserAgent  string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeURL:   DefaultProbeURL,
		Timeout:    DefaultTimeout,
		RetryDelay: DefaultRetryDelay,
		UserAgent:  defaultUserAgent,
	}
}

// Status is the outcome of one probe round trip.
type Status struct {
	Up         bool
	StatusCode int
	// PortalURL is the intercepting portal's address when one could be
	// learned from a redirect or a meta refresh in the substituted body.
	PortalURL string
}

// Prober issues bounded generate-204 checks.
type Prober struct {
	client *http.Client
	config Config
	log    *logger.Logger
}

// New creates a prober. Redirects are never followed: the redirect itself is
// the signal.
func New(cfg Config, log *logger.Logger) *Prober {
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = DefaultProbeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if log == nil {
		log = logger.Global().WithComponent("probe")
	}

	transport := &http.Transport{
		Proxy: nil, // a proxy would answer for the portal
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
		DisableKeepAlives:   false,
	}

	return &Prober{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		log:    log,
	}
}

// IsInternetUp reports whether the real internet is reachable. A first
// failure is retried once after a short fixed delay to absorb transients.
func (p *Prober) IsInternetUp(ctx context.Context) bool {
	if p.Check(ctx).Up {
		return true
	}

	select {
	case <-time.After(p.config.RetryDelay):
	case <-ctx.Done():
		return false
	}

	return p.Check(ctx).Up
}

// Check performs one probe round trip without retrying.
func (p *Prober) Check(ctx context.Context) Status {
	start := time.Now()
	status := p.check(ctx)
	p.log.ProbeEvent(status.Up, status.StatusCode, time.Since(start))
	return status
}

func (p *Prober) check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProbeURL, nil)
	if err != nil {
		return Status{}
	}
	req.Header.Set("User-Agent", p.config.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return Status{}
	}
	defer resp.Body.Close()

	status := Status{
		Up:         resp.StatusCode == http.StatusNoContent,
		StatusCode: resp.StatusCode,
	}
	if status.Up {
		return status
	}

	// Intercepted. Learn the portal address if the substituted answer
	// reveals one.
	if loc := resp.Header.Get("Location"); loc != "" {
		status.PortalURL = loc
		return status
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err == nil {
		status.PortalURL = extractRefreshTarget(string(body))
	}
	return status
}

// extractRefreshTarget finds a meta http-equiv=refresh redirect target in a
// substituted portal page.
func extractRefreshTarget(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var target string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if target != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var equiv, content string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "http-equiv":
					equiv = strings.ToLower(attr.Val)
				case "content":
					content = attr.Val
				}
			}
			if equiv == "refresh" {
				target = refreshURL(content)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return target
}

// refreshURL parses the url= part of a refresh directive like "0; url=http://...".
func refreshURL(content string) string {
	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return strings.Trim(part[4:], `'" `)
		}
	}
	return ""
}
