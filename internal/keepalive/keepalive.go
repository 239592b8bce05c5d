// Package keepalive distinguishes portal session-refresh pages from true
// login pages. Classification only suppresses backoff escalation; it never
// blocks remediation outright.
package keepalive

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Default patterns. The URL token is checked first because it is cheap; the
// body pattern covers portals that serve the refresh page at a generic path.
const (
	DefaultURLToken    = "keepalive"
	DefaultTextPattern = `keepalive|authentication keep-?alive|authentication refresh`
)

// Page is the part of a browsing session the classifier inspects.
type Page interface {
	URL(ctx context.Context) (string, error)
	VisibleText(ctx context.Context) (string, error)
}

// Classifier applies the keepalive heuristics.
type Classifier struct {
	urlToken string
	textRe   *regexp.Regexp
}

// New creates a classifier. Empty arguments select the defaults.
func New(urlToken, textPattern string) (*Classifier, error) {
	if urlToken == "" {
		urlToken = DefaultURLToken
	}
	if textPattern == "" {
		textPattern = DefaultTextPattern
	}
	re, err := regexp.Compile(`(?i)` + textPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid keepalive text pattern: %w", err)
	}
	return &Classifier{urlToken: strings.ToLower(urlToken), textRe: re}, nil
}

// NewDefault creates a classifier with the stock patterns.
func NewDefault() *Classifier {
	c, _ := New("", "")
	return c
}

// IsKeepalive reports whether the page looks like a session keepalive.
// Inspection errors classify as "not keepalive" so a flaky page never
// suppresses a legitimate login attempt.
func (c *Classifier) IsKeepalive(ctx context.Context, page Page) bool {
	addr, err := page.URL(ctx)
	if err == nil && strings.Contains(strings.ToLower(addr), c.urlToken) {
		return true
	}

	text, err := page.VisibleText(ctx)
	if err != nil {
		return false
	}
	return c.textRe.MatchString(text)
}
