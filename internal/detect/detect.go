// Package detect locates login form fields across a page and its nested frames.
package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/logger"
)

// DefaultUsernamePattern is the alternation matched against an input's
// name, id, and placeholder to classify it as a likely username field.
// Imperfect on purpose: false negatives are an accepted trade-off, and the
// pattern is overridable through configuration rather than edited here.
const DefaultUsernamePattern = `user|login|email|username|id`

// Heuristics holds the field-matching policy. The raw alternation is kept
// alongside the compiled form so the injector can embed the identical
// pattern into in-page script.
type Heuristics struct {
	UsernamePattern string
	re              *regexp.Regexp
}

// NewHeuristics compiles a username alternation into a usable policy.
func NewHeuristics(pattern string) (Heuristics, error) {
	if pattern == "" {
		pattern = DefaultUsernamePattern
	}
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return Heuristics{}, fmt.Errorf("invalid username pattern: %w", err)
	}
	return Heuristics{UsernamePattern: pattern, re: re}, nil
}

// DefaultHeuristics returns the stock policy.
func DefaultHeuristics() Heuristics {
	h, _ := NewHeuristics(DefaultUsernamePattern)
	return h
}

// MatchesUsername reports whether any of the identifying attributes match
// the username alternation.
func (h Heuristics) MatchesUsername(name, id, placeholder string) bool {
	return h.re.MatchString(name) || h.re.MatchString(id) || h.re.MatchString(placeholder)
}

// Input describes one scanned form input.
type Input struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder"`
}

// FrameResult is the scan outcome for one document.
type FrameResult struct {
	DocURL string
	Found  bool
	Inputs []Input
}

// Result aggregates per-frame scans; Found is true if any frame holds both
// a password input and a likely username input.
type Result struct {
	Found  bool
	Frames []FrameResult
}

// ContentSource supplies frame snapshots; any browsing session satisfies it.
type ContentSource interface {
	Frames(ctx context.Context) ([]browsing.Frame, error)
}

// Detector scans session content for login field candidates.
type Detector struct {
	heuristics Heuristics
	log        *logger.Logger
}

// New creates a detector with the given heuristics.
func New(h Heuristics, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.Global().WithComponent("detect")
	}
	return &Detector{heuristics: h, log: log}
}

// Detect snapshots every frame of the session and scans each independently.
// A frame that fails to snapshot or parse reports found:false rather than
// aborting the whole scan.
func (d *Detector) Detect(ctx context.Context, s ContentSource) (Result, error) {
	frames, err := s.Frames(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot frames: %w", err)
	}

	result := Result{Frames: make([]FrameResult, 0, len(frames))}
	for _, frame := range frames {
		fr := d.scanFrame(frame)
		if fr.Found {
			result.Found = true
		}
		d.log.Event(logger.DebugLevel).
			Str("doc_url", fr.DocURL).
			Bool("found", fr.Found).
			Int("inputs", len(fr.Inputs)).
			Msg("Frame scanned")
		result.Frames = append(result.Frames, fr)
	}

	return result, nil
}

// scanFrame inspects one document's inputs.
func (d *Detector) scanFrame(frame browsing.Frame) FrameResult {
	fr := FrameResult{DocURL: frame.DocURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(frame.HTML))
	if err != nil {
		d.log.WithError(err).Debugf("frame parse failed: %s", frame.DocURL)
		return fr
	}

	var hasPassword, hasUsername bool

	doc.Find("input").Each(func(_ int, sel *goquery.Selection) {
		in := Input{
			Name:        sel.AttrOr("name", ""),
			ID:          sel.AttrOr("id", ""),
			Type:        strings.ToLower(sel.AttrOr("type", "")),
			Placeholder: sel.AttrOr("placeholder", ""),
		}
		fr.Inputs = append(fr.Inputs, in)

		if in.Type == "password" {
			hasPassword = true
			return
		}
		if d.likelyUsername(in) {
			hasUsername = true
		}
	})

	fr.Found = hasPassword && hasUsername
	return fr
}

// likelyUsername classifies a non-password input as a username candidate:
// identifying attributes match the alternation, or the type is text, email,
// or absent.
func (d *Detector) likelyUsername(in Input) bool {
	if d.heuristics.MatchesUsername(in.Name, in.ID, in.Placeholder) {
		return true
	}
	switch in.Type {
	case "", "text", "email":
		return true
	}
	return false
}
