package keepalive

import (
	"context"
	"errors"
	"testing"
)

type fakePage struct {
	url     string
	urlErr  error
	text    string
	textErr error
}

func (f *fakePage) URL(ctx context.Context) (string, error)         { return f.url, f.urlErr }
func (f *fakePage) VisibleText(ctx context.Context) (string, error) { return f.text, f.textErr }

func TestIsKeepalive(t *testing.T) {
	tests := []struct {
		name string
		page fakePage
		want bool
	}{
		{
			name: "url token",
			page: fakePage{url: "https://portal.example.net/cgi-bin/KeepAlive?sid=42"},
			want: true,
		},
		{
			name: "body keepalive",
			page: fakePage{url: "https://portal.example.net/session", text: "Authentication keep-alive in progress"},
			want: true,
		},
		{
			name: "body keepalive no hyphen",
			page: fakePage{url: "https://portal.example.net/session", text: "authentication keepalive"},
			want: true,
		},
		{
			name: "body refresh",
			page: fakePage{url: "https://portal.example.net/session", text: "Authentication Refresh will occur shortly"},
			want: true,
		},
		{
			name: "login page",
			page: fakePage{url: "https://portal.example.net/login", text: "Please enter your username and password"},
			want: false,
		},
		{
			name: "url error falls back to body",
			page: fakePage{urlErr: errors.New("gone"), text: "authentication refresh"},
			want: true,
		},
		{
			name: "both fail classifies as login",
			page: fakePage{urlErr: errors.New("gone"), textErr: errors.New("gone")},
			want: false,
		},
	}

	c := NewDefault()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsKeepalive(context.Background(), &tt.page); got != tt.want {
				t.Errorf("IsKeepalive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_CustomPatterns(t *testing.T) {
	c, err := New("refreshsession", `session extended`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !c.IsKeepalive(context.Background(), &fakePage{url: "https://p.example.net/RefreshSession"}) {
		t.Error("custom URL token should match case-insensitively")
	}
	if c.IsKeepalive(context.Background(), &fakePage{url: "https://p.example.net/keepalive"}) {
		t.Error("default token should no longer match after override")
	}
	if !c.IsKeepalive(context.Background(), &fakePage{url: "https://p.example.net/x", text: "Session Extended"}) {
		t.Error("custom text pattern should match")
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New("", `(`); err == nil {
		t.Error("invalid pattern should return an error")
	}
}
