package browser

import (
	"errors"
	"testing"

	"github.com/portalpilot/portalpilot/internal/browsing"
)

func TestSnapshotFrame(t *testing.T) {
	tests := []struct {
		name     string
		docURL   string
		html     string
		err      error
		wantHTML string
	}{
		{
			name:     "readable frame keeps its content",
			docURL:   "http://portal.example/login",
			html:     "<html><body>login</body></html>",
			wantHTML: "<html><body>login</body></html>",
		},
		{
			name:     "unreadable frame becomes an empty placeholder",
			docURL:   "http://ads.example/frame",
			html:     "partial",
			err:      errors.New("frame access denied"),
			wantHTML: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := snapshotFrame(tt.docURL, tt.html, tt.err)
			if frame.DocURL != tt.docURL {
				t.Errorf("DocURL = %q, want %q", frame.DocURL, tt.docURL)
			}
			if frame.HTML != tt.wantHTML {
				t.Errorf("HTML = %q, want %q", frame.HTML, tt.wantHTML)
			}
		})
	}
}

// An unreadable frame must occupy a slot: index i of the snapshot list has to
// address the same document as Eval's frame index i, or scans that locate a
// form past a cross-origin frame would inject into the wrong document.
func TestSnapshotFrame_PreservesIndexAlignment(t *testing.T) {
	docs := []struct {
		url string
		err error
	}{
		{url: "http://portal.example/"},
		{url: "http://ads.example/banner", err: errors.New("cross-origin")},
		{url: "http://portal.example/login-frame"},
	}

	frames := make([]browsing.Frame, 0, len(docs))
	for _, d := range docs {
		frames = append(frames, snapshotFrame(d.url, "<form></form>", d.err))
	}

	if len(frames) != len(docs) {
		t.Fatalf("got %d frames for %d documents", len(frames), len(docs))
	}
	if frames[2].DocURL != "http://portal.example/login-frame" {
		t.Errorf("frame 2 = %q, want the login frame", frames[2].DocURL)
	}
	if frames[1].HTML != "" {
		t.Errorf("unreadable frame 1 should be an empty placeholder, got %q", frames[1].HTML)
	}
}
