// Package inject fills detected login fields and submits the form.
package inject

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/portalpilot/portalpilot/internal/browsing"
	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/detect"
	"github.com/portalpilot/portalpilot/internal/logger"
)

// Result is the outcome of an injection attempt. OK is true only when a
// submit action was actually triggered after values were set.
type Result struct {
	OK         bool           `json:"ok"`
	FrameIndex int            `json:"frameIndex,omitempty"`
	DocURL     string         `json:"docUrl,omitempty"`
	Error      string         `json:"error,omitempty"`
	// Inputs lists the scanned inputs when no usable field combination
	// existed. Kept for logging; never shown to the user.
	Inputs []detect.Input `json:"inputs,omitempty"`
}

// Error strings reported by the in-page script.
const (
	ErrFieldsNotFound = "fields_not_found"
	ErrSubmitNotFound = "submit_not_found"
)

// Evaluator is the part of a browsing session the injector drives.
type Evaluator interface {
	Frames(ctx context.Context) ([]browsing.Frame, error)
	Eval(ctx context.Context, frameIndex int, js string) (string, error)
}

// Injector performs two-phase field resolution and form submission inside
// each frame, returning the first frame that succeeds.
type Injector struct {
	heuristics detect.Heuristics
	log        *logger.Logger
}

// New creates an injector sharing the detector's heuristics, so fallback
// discovery and detection agree on what a username field looks like.
func New(h detect.Heuristics, log *logger.Logger) *Injector {
	if log == nil {
		log = logger.Global().WithComponent("inject")
	}
	return &Injector{heuristics: h, log: log}
}

// Inject attempts the fill-and-submit in every frame independently and
// returns the first success. When all frames fail, the result carries the
// scanned inputs of the last frame that reported fields_not_found.
func (i *Injector) Inject(ctx context.Context, target Evaluator, c creds.Credentials) Result {
	frames, err := target.Frames(ctx)
	if err != nil {
		return Result{Error: fmt.Sprintf("snapshot frames: %v", err)}
	}
	if len(frames) == 0 {
		return Result{Error: ErrFieldsNotFound}
	}

	js, err := i.script(c)
	if err != nil {
		return Result{Error: fmt.Sprintf("build script: %v", err)}
	}

	last := Result{Error: ErrFieldsNotFound}
	for idx, frame := range frames {
		raw, err := target.Eval(ctx, idx, js)
		if err != nil {
			i.log.WithError(err).Debugf("frame %d eval failed: %s", idx, frame.DocURL)
			continue
		}

		var res Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			i.log.WithError(err).Debugf("frame %d returned malformed result", idx)
			continue
		}
		res.FrameIndex = idx
		res.DocURL = frame.DocURL

		if res.OK {
			return res
		}
		last = res
	}

	return last
}

// scriptConfig is the payload handed to the in-page script.
type scriptConfig struct {
	UserField       string            `json:"userField"`
	PassField       string            `json:"passField"`
	Username        string            `json:"username"`
	Password        string            `json:"password"`
	ExtraFields     map[string]string `json:"extraFields"`
	UsernamePattern string            `json:"usernamePattern"`
}

// script builds the frame-side fill-and-submit routine. Resolution is
// two-phase: explicit userField/passField selectors matched by name or id
// first, then heuristic discovery identical to the detector's criteria,
// defaulting to the first non-password input when no heuristic match exists.
func (i *Injector) script(c creds.Credentials) (string, error) {
	cfg, err := json.Marshal(scriptConfig{
		UserField:       c.UserField,
		PassField:       c.PassField,
		Username:        c.Username,
		Password:        c.Password,
		ExtraFields:     c.ExtraFields,
		UsernamePattern: i.heuristics.UsernamePattern,
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(injectScript, cfg), nil
}

// injectScript runs inside one frame document. It must stay self-contained:
// no frame can be assumed to carry any library.
const injectScript = `(function(cfg) {
	var inputs = Array.prototype.slice.call(document.getElementsByTagName('input'));

	function describe() {
		return inputs.map(function(i) {
			return {name: i.name || '', id: i.id || '', type: (i.type || '').toLowerCase(), placeholder: i.placeholder || ''};
		});
	}
	function byNameOrId(sel) {
		for (var k = 0; k < inputs.length; k++) {
			if (inputs[k].name === sel || inputs[k].id === sel) return inputs[k];
		}
		return null;
	}
	function setValue(el, value) {
		el.value = value;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	}

	var user = cfg.userField ? byNameOrId(cfg.userField) : null;
	var pass = cfg.passField ? byNameOrId(cfg.passField) : null;

	if (!pass) {
		for (var p = 0; p < inputs.length; p++) {
			if ((inputs[p].type || '').toLowerCase() === 'password') { pass = inputs[p]; break; }
		}
	}
	if (!user) {
		var re = new RegExp(cfg.usernamePattern, 'i');
		for (var u = 0; u < inputs.length; u++) {
			var el = inputs[u];
			var t = (el.type || '').toLowerCase();
			if (t === 'password') continue;
			if (re.test(el.name || '') || re.test(el.id || '') || re.test(el.placeholder || '') ||
				t === '' || t === 'text' || t === 'email') { user = el; break; }
		}
	}
	if (!user) {
		for (var v = 0; v < inputs.length; v++) {
			if ((inputs[v].type || '').toLowerCase() !== 'password') { user = inputs[v]; break; }
		}
	}

	if (!user || !pass) {
		return {ok: false, error: 'fields_not_found', inputs: describe()};
	}

	setValue(user, cfg.username);
	setValue(pass, cfg.password);

	var form = pass.form || user.form;
	if (form && cfg.extraFields) {
		for (var name in cfg.extraFields) {
			if (!Object.prototype.hasOwnProperty.call(cfg.extraFields, name)) continue;
			var extra = form.querySelector('input[name="' + name + '"]');
			if (!extra) {
				extra = document.createElement('input');
				extra.type = 'hidden';
				extra.name = name;
				form.appendChild(extra);
			}
			extra.value = cfg.extraFields[name];
		}
	}

	var scope = form || document;
	var btn = scope.querySelector("button[type='submit'], input[type='submit']");
	if (btn) {
		btn.click();
		return {ok: true};
	}
	if (form) {
		form.submit();
		return {ok: true};
	}
	return {ok: false, error: 'submit_not_found', inputs: describe()};
})(%s)`
