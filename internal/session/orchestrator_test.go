package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/detect"
	"github.com/portalpilot/portalpilot/internal/inject"
	"github.com/portalpilot/portalpilot/internal/rerr"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeSession struct {
	id     string
	url    string
	frames []browsing.Frame
	evals  map[int]string

	navErr    error
	reloadErr error
	urlErr    error
	framesErr error

	navigated []string
	reloads   int
	waits     int
	closed    bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) URL(ctx context.Context) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return s.url, nil
}

func (s *fakeSession) VisibleText(ctx context.Context) (string, error) { return "", nil }

func (s *fakeSession) Frames(ctx context.Context) ([]browsing.Frame, error) {
	if s.framesErr != nil {
		return nil, s.framesErr
	}
	return s.frames, nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if s.navErr != nil {
		return s.navErr
	}
	s.navigated = append(s.navigated, url)
	s.url = url
	return nil
}

func (s *fakeSession) WaitLoad(ctx context.Context, timeout time.Duration) error {
	s.waits++
	return nil
}

func (s *fakeSession) Reload(ctx context.Context) error {
	if s.reloadErr != nil {
		return s.reloadErr
	}
	s.reloads++
	return nil
}

func (s *fakeSession) Eval(ctx context.Context, frameIndex int, js string) (string, error) {
	if res, ok := s.evals[frameIndex]; ok {
		return res, nil
	}
	return "", errors.New("no eval result configured")
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakePort struct {
	sessions []browsing.Session
	opened   []*fakeSession
	openErr  error
	nextID   int
	openURL  func(url string) *fakeSession
}

func (p *fakePort) Sessions(ctx context.Context) ([]browsing.Session, error) {
	all := append([]browsing.Session{}, p.sessions...)
	for _, s := range p.opened {
		all = append(all, s)
	}
	return all, nil
}

func (p *fakePort) Open(ctx context.Context, url string) (browsing.Session, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.nextID++
	var s *fakeSession
	if p.openURL != nil {
		s = p.openURL(url)
	} else {
		s = &fakeSession{url: url}
	}
	if s.id == "" {
		s.id = "opened-" + string(rune('0'+p.nextID))
	}
	p.opened = append(p.opened, s)
	return s, nil
}

type fakeProber struct {
	up     []bool
	checks int
}

func (p *fakeProber) IsInternetUp(ctx context.Context) bool {
	idx := p.checks
	p.checks++
	if idx < len(p.up) {
		return p.up[idx]
	}
	if len(p.up) == 0 {
		return false
	}
	return p.up[len(p.up)-1]
}

// loginFrames returns frame content holding a detectable login form.
func loginFrames() []browsing.Frame {
	return []browsing.Frame{{
		DocURL: "http://portal.example/login",
		HTML:   `<form><input type="text" name="username"><input type="password" name="password"></form>`,
	}}
}

// successEval is what the injection script reports when it fills and submits.
const successEval = `{"ok":true,"inputs":[{"name":"username","type":"text"}]}`

func testCredentials() creds.Credentials {
	return creds.Credentials{
		LoginURL: "http://portal.example/login",
		Username: "guest",
		Password: "guest",
	}
}

func newTestOrchestrator(t *testing.T, port browsing.Port, probe Prober) *Orchestrator {
	t.Helper()
	h, err := detect.NewHeuristics(detect.DefaultUsernamePattern)
	if err != nil {
		t.Fatalf("NewHeuristics: %v", err)
	}
	o := New(port, probe, detect.New(h, nil), inject.New(h, nil), DefaultConfig(), nil)
	o.sleep = func(ctx context.Context, d time.Duration) {}
	return o
}

// ============================================================================
// OpenAndSubmit
// ============================================================================

func TestOpenAndSubmit_AlreadyUp(t *testing.T) {
	port := &fakePort{}
	o := newTestOrchestrator(t, port, &fakeProber{up: []bool{true}})

	_, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if rerr.KindOf(err) != rerr.AlreadyUp {
		t.Fatalf("expected already_up, got %v", err)
	}
	if len(port.opened) != 0 {
		t.Errorf("no session should be opened when connectivity is up")
	}
}

func TestOpenAndSubmit_ReusesExistingSession(t *testing.T) {
	existing := &fakeSession{
		id:     "pre-existing",
		url:    "http://portal.example/welcome",
		frames: loginFrames(),
		evals:  map[int]string{0: successEval},
	}
	port := &fakePort{sessions: []browsing.Session{existing}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}
	if out.SessionID != "pre-existing" {
		t.Errorf("expected reuse of existing session, got %q", out.SessionID)
	}
	if out.Created {
		t.Errorf("reused session must not be marked created")
	}
	if len(port.opened) != 0 {
		t.Errorf("no new session should be opened when one exists at the origin")
	}
}

func TestOpenAndSubmit_ProbeSessionRedirectedToPortal(t *testing.T) {
	port := &fakePort{openURL: func(url string) *fakeSession {
		// The captive network redirects the seed page to the portal.
		return &fakeSession{
			url:    "http://portal.example/login?redirect=1",
			frames: loginFrames(),
			evals:  map[int]string{0: successEval},
		}
	}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}
	if !out.Created {
		t.Errorf("probe session is engine-created and must be marked as such")
	}
	if len(port.opened) != 1 {
		t.Fatalf("expected exactly one opened session, got %d", len(port.opened))
	}
}

func TestOpenAndSubmit_NavigatesProbeSessionWhenNotRedirected(t *testing.T) {
	port := &fakePort{openURL: func(url string) *fakeSession {
		return &fakeSession{
			url:    url, // no portal redirect happened
			frames: loginFrames(),
			evals:  map[int]string{0: successEval},
		}
	}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}

	probe := port.opened[0]
	if len(probe.navigated) != 1 || probe.navigated[0] != "http://portal.example/login" {
		t.Errorf("expected direct navigation to login URL, got %v", probe.navigated)
	}
	if out.SessionID != probe.id {
		t.Errorf("attempt should run on the probe session")
	}
}

func TestOpenAndSubmit_RecoveryDuringAcquisitionAborts(t *testing.T) {
	port := &fakePort{openURL: func(url string) *fakeSession {
		return &fakeSession{url: url}
	}}
	// Down on the first check, up on the re-check before navigation.
	o := newTestOrchestrator(t, port, &fakeProber{up: []bool{false, true}})

	_, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if rerr.KindOf(err) != rerr.AlreadyUp {
		t.Fatalf("expected already_up after recovery, got %v", err)
	}
	if len(port.opened[0].navigated) != 0 {
		t.Errorf("no navigation should happen once connectivity recovered")
	}
}

func TestOpenAndSubmit_FreshSessionOnNavigationFailure(t *testing.T) {
	first := true
	port := &fakePort{openURL: func(url string) *fakeSession {
		if first {
			first = false
			return &fakeSession{id: "probe", url: url, navErr: errors.New("target crashed")}
		}
		return &fakeSession{
			id:     "fresh",
			url:    url,
			frames: loginFrames(),
			evals:  map[int]string{0: successEval},
		}
	}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}
	if out.SessionID != "fresh" {
		t.Errorf("expected fallback to a fresh session, got %q", out.SessionID)
	}
	if !out.Created {
		t.Errorf("fresh session must be tracked as created")
	}
	if o.CreatedCount() != 2 {
		t.Errorf("both probe and fresh session are engine-created, got %d tracked", o.CreatedCount())
	}
}

func TestOpenAndSubmit_SessionCreateFailed(t *testing.T) {
	port := &fakePort{openErr: errors.New("browser gone")}
	o := newTestOrchestrator(t, port, &fakeProber{})
	// Exhaust the probe-session rung too.
	o.lastProbeCreate = o.now()

	_, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if rerr.KindOf(err) != rerr.SessionCreateFailed {
		t.Fatalf("expected session_create_failed, got %v", err)
	}
}

func TestOpenAndSubmit_FieldsNotFound(t *testing.T) {
	existing := &fakeSession{
		id:     "bare",
		url:    "http://portal.example/",
		frames: []browsing.Frame{{DocURL: "http://portal.example/", HTML: "<p>welcome</p>"}},
	}
	port := &fakePort{sessions: []browsing.Session{existing}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if rerr.KindOf(err) != rerr.FieldsNotFound {
		t.Fatalf("expected fields_not_found, got %v", err)
	}
	if out.SessionID != "bare" {
		t.Errorf("outcome should still name the session used")
	}
	if existing.reloads != 1 {
		t.Errorf("expected exactly one reload during detection retries, got %d", existing.reloads)
	}
}

func TestOpenAndSubmit_DetectSucceedsAfterReload(t *testing.T) {
	// The login form only renders after a reload.
	flip := &flippingSession{fakeSession: &fakeSession{
		id:     "slow-render",
		url:    "http://portal.example/",
		frames: []browsing.Frame{{DocURL: "http://portal.example/", HTML: "<p>loading</p>"}},
		evals:  map[int]string{0: successEval},
	}}
	port := &fakePort{sessions: []browsing.Session{flip}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}
	if !out.Result.OK {
		t.Errorf("expected successful injection after reload")
	}
	if flip.reloads != 1 {
		t.Errorf("expected one reload, got %d", flip.reloads)
	}
}

// flippingSession renders the login form only after a reload.
type flippingSession struct {
	*fakeSession
}

func (s *flippingSession) Frames(ctx context.Context) ([]browsing.Frame, error) {
	if s.reloads > 0 {
		return loginFrames(), nil
	}
	return s.fakeSession.Frames(ctx)
}

// ============================================================================
// Probe session cooldown
// ============================================================================

func TestProbeSessionCooldown(t *testing.T) {
	port := &fakePort{openURL: func(url string) *fakeSession {
		return &fakeSession{url: url, urlErr: errors.New("session died")}
	}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	base := time.Now()
	o.now = func() time.Time { return base }

	creds := testCredentials()

	// First attempt creates the probe session; it dies, and navigation is
	// unreachable (probeSession forgotten), so a fresh session is opened.
	_, _ = o.OpenAndSubmit(context.Background(), creds)
	openedAfterFirst := len(port.opened)

	// Within the cooldown no new probe session may be created.
	o.now = func() time.Time { return base.Add(5 * time.Second) }
	_, _ = o.OpenAndSubmit(context.Background(), creds)
	probeOpens := 0
	for _, s := range port.opened {
		if len(s.navigated) == 0 && s.url == o.config.SeedURL {
			probeOpens++
		}
	}
	if probeOpens > 1 {
		t.Errorf("probe session recreated within cooldown: %d creations", probeOpens)
	}

	// After the cooldown a new probe session is allowed.
	o.now = func() time.Time { return base.Add(20 * time.Second) }
	_, _ = o.OpenAndSubmit(context.Background(), creds)
	if len(port.opened) <= openedAfterFirst {
		t.Errorf("expected further session creations after cooldown")
	}
}

// ============================================================================
// CloseCreated
// ============================================================================

func TestCloseCreated_RefusesForeignSession(t *testing.T) {
	existing := &fakeSession{
		id:     "user-tab",
		url:    "http://portal.example/",
		frames: loginFrames(),
		evals:  map[int]string{0: successEval},
	}
	port := &fakePort{sessions: []browsing.Session{existing}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}

	if o.CloseCreated(out.SessionID) {
		t.Errorf("closing a pre-existing session must be refused")
	}
	if existing.closed {
		t.Errorf("pre-existing session was closed")
	}
}

func TestCloseCreated_ClosesEngineSession(t *testing.T) {
	port := &fakePort{openURL: func(url string) *fakeSession {
		return &fakeSession{
			url:    "http://portal.example/login",
			frames: loginFrames(),
			evals:  map[int]string{0: successEval},
		}
	}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	out, err := o.OpenAndSubmit(context.Background(), testCredentials())
	if err != nil {
		t.Fatalf("OpenAndSubmit: %v", err)
	}
	if !out.Created {
		t.Fatalf("expected a created session")
	}

	if !o.CloseCreated(out.SessionID) {
		t.Fatalf("engine-created session must be closable")
	}
	if !port.opened[0].closed {
		t.Errorf("session was not actually closed")
	}
	if o.CreatedCount() != 0 {
		t.Errorf("registry should be empty after close, got %d", o.CreatedCount())
	}
}

// ============================================================================
// FindAtOrigin
// ============================================================================

func TestFindAtOrigin(t *testing.T) {
	a := &fakeSession{id: "a", url: "http://other.example/"}
	b := &fakeSession{id: "b", url: "http://portal.example/keepalive"}
	port := &fakePort{sessions: []browsing.Session{a, b}}
	o := newTestOrchestrator(t, port, &fakeProber{})

	sess, ok := o.FindAtOrigin(context.Background(), "http://portal.example")
	if !ok || sess.ID() != "b" {
		t.Fatalf("expected session b at origin, got ok=%v", ok)
	}

	_, ok = o.FindAtOrigin(context.Background(), "http://absent.example")
	if ok {
		t.Errorf("unexpected match for absent origin")
	}
}
