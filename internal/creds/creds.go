// Package creds defines the cached portal credential configuration.
package creds

import (
	"fmt"
	"net/url"
	"strings"
)

// Credentials is an immutable snapshot of the portal login configuration.
// The scheduler replaces it wholesale on update and drops it on clear; no
// field is mutated in place.
type Credentials struct {
	LoginURL  string `json:"login_url" yaml:"login_url"`
	UserField string `json:"user_field,omitempty" yaml:"user_field,omitempty"`
	PassField string `json:"pass_field,omitempty" yaml:"pass_field,omitempty"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`

	// ExtraFields are written into hidden inputs on the login form,
	// for portals that require fixed hidden parameters.
	ExtraFields map[string]string `json:"extra_fields,omitempty" yaml:"extra_fields,omitempty"`
}

// Origin returns scheme+host+port for the login URL, the key for all
// per-origin state.
func (c Credentials) Origin() (string, error) {
	return OriginOf(c.LoginURL)
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	out := c
	if c.ExtraFields != nil {
		out.ExtraFields = make(map[string]string, len(c.ExtraFields))
		for k, v := range c.ExtraFields {
			out.ExtraFields[k] = v
		}
	}
	return out
}

// Validate checks the minimum viable configuration.
func (c Credentials) Validate() error {
	if c.LoginURL == "" {
		return fmt.Errorf("login URL is required")
	}
	if _, err := c.Origin(); err != nil {
		return err
	}
	if c.Username == "" && c.Password == "" {
		return fmt.Errorf("username or password is required")
	}
	return nil
}

// OriginOf normalizes any URL to its scheme+host+port origin.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// SameOrigin reports whether two URLs share an origin.
func SameOrigin(a, b string) bool {
	oa, errA := OriginOf(a)
	ob, errB := OriginOf(b)
	return errA == nil && errB == nil && oa == ob
}
