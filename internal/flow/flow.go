package flow

import (
	"fmt"

	"github.com/google/uuid"

	"proxycore/internal/logging"
	"proxycore/internal/script"
)

var log = logging.New("flow")

// Version is the flow snapshot format tuple, carried in every snapshot
// (spec.md §6).
var Version = [3]int{2, 1, 0}

// Predicate is the filter contract a Flow is matched against (spec.md §9):
// a small polymorphic object with a single evaluate operation. Construction
// of a Predicate (parsing an expression) lives outside this package —
// internal/filter supplies the compiled implementation.
type Predicate interface {
	Evaluate(f *Flow) bool
}

// Flow pairs a request with its eventual response or error (spec.md §3).
// A flow holds at most one Response and at most one Error; once either is
// set the flow is complete. Intercepting implies some owned ack is still pending.
// Backup is present exactly when the flow has been modified since the last
// revert or commit.
type Flow struct {
	id uuid.UUID

	Request      *Request
	Response     *Response
	Error        *ErrorArtifact
	Intercepting bool

	backup map[string]interface{}
}

// NewFlow creates a flow wrapping req, with a freshly assigned identity.
func NewFlow(req *Request) *Flow {
	return &Flow{id: uuid.New(), Request: req}
}

// ID returns the flow's stable identity, used as the flow store's map key.
func (f *Flow) ID() uuid.UUID { return f.id }

// Snapshot renders the flow as the primitive-valued map used by the flow
// log and the script transform (spec.md §4.1, §6). When includeBackup is
// true and a backup exists, it is embedded verbatim (not recursively
// re-encoded with its own backup field).
func (f *Flow) Snapshot(includeBackup bool) map[string]interface{} {
	m := map[string]interface{}{
		"version": []interface{}{Version[0], Version[1], Version[2]},
	}
	if f.Request != nil {
		m["request"] = f.Request.Snapshot()
	} else {
		m["request"] = nil
	}
	if f.Response != nil {
		m["response"] = f.Response.Snapshot()
	} else {
		m["response"] = nil
	}
	if f.Error != nil {
		m["error"] = f.Error.Snapshot()
	} else {
		m["error"] = nil
	}
	if includeBackup && f.backup != nil {
		m["backup"] = f.backup
	} else {
		m["backup"] = nil
	}
	return m
}

// Restore reconstitutes the flow's fields from a snapshot map. The backup
// field, if present, is preserved verbatim rather than recursively
// restored (spec.md §4.1).
func (f *Flow) Restore(m map[string]interface{}) {
	if reqMap, ok := m["request"].(map[string]interface{}); ok {
		f.Request = RestoreRequest(reqMap)
	} else {
		f.Request = nil
	}
	if respMap, ok := m["response"].(map[string]interface{}); ok {
		f.Response = RestoreResponse(respMap, f.Request)
	} else {
		f.Response = nil
	}
	if errMap, ok := m["error"].(map[string]interface{}); ok {
		f.Error = RestoreErrorArtifact(errMap, f.Request)
	} else {
		f.Error = nil
	}
	if backup, ok := m["backup"].(map[string]interface{}); ok {
		f.backup = backup
	}
}

// Backup takes a snapshot of the flow for later revert, unless one already
// exists. Backup/revert is single-level: a second Backup before an
// intervening Revert is a no-op, not a stack push (spec.md §4.1, §5). The
// stored snapshot omits the backup field itself.
func (f *Flow) Backup() {
	if f.backup != nil {
		return
	}
	f.backup = f.Snapshot(false)
}

// Revert restores the flow from its backup and clears it. A flow with no
// backup is left untouched.
func (f *Flow) Revert() {
	if f.backup == nil {
		return
	}
	saved := f.backup
	f.Restore(saved)
	f.backup = nil
}

// Modified reports whether a backup exists. This is deliberately
// conservative (spec.md §9 open question): true whenever a backup exists,
// even if the flow was not further changed since taking it.
func (f *Flow) Modified() bool { return f.backup != nil }

// Match applies pred to the flow. A nil predicate matches everything.
func (f *Flow) Match(pred Predicate) bool {
	if pred == nil {
		return true
	}
	return pred.Evaluate(f)
}

// Intercept pauses the flow's next acknowledgement pending an external
// accept or kill.
func (f *Flow) Intercept() { f.Intercepting = true }

// AcceptIntercept acknowledges the latest unacknowledged artifact —
// response if one is present and still pending, otherwise the request —
// and clears Intercepting.
func (f *Flow) AcceptIntercept() error {
	f.Intercepting = false
	if f.Response != nil && !f.Response.Acked() {
		return f.Response.Forward()
	}
	if f.Request != nil && !f.Request.Acked() {
		return f.Request.Forward()
	}
	return nil
}

// Kill attaches a "Connection killed" error, acknowledges the latest
// pending artifact with a null response, notifies the caller's error
// handler (the master's on_error-equivalent), and clears Intercepting.
// The notify callback is injected rather than imported to avoid a cycle
// with internal/master, which owns the Flow/Store wiring (spec.md §4.1,
// §9 "pass the master and state objects explicitly").
func (f *Flow) Kill(notify func(flow *Flow, errArtifact *ErrorArtifact)) error {
	f.Intercepting = false

	errArtifact := NewErrorArtifact(f.Request, "Connection killed")
	f.Error = errArtifact

	var ackErr error
	if f.Response != nil && !f.Response.Acked() {
		ackErr = f.Response.DenyNull()
	} else if f.Request != nil && !f.Request.Acked() {
		ackErr = f.Request.DenyNull()
	}

	if notify != nil {
		notify(f, errArtifact)
	}

	log.WithField("flow_id", f.id.String()).Info("flow killed")
	return ackErr
}

// Replace applies a literal or regex substitution to the request, response
// (if any), and error (if any), returning the total replacement count.
func (f *Flow) Replace(pattern, replacement string, useRegex bool) (int, error) {
	total := 0
	if f.Request != nil {
		n, err := f.Request.Substitute(pattern, replacement, useRegex)
		if err != nil {
			return 0, fmt.Errorf("replace in request: %w", err)
		}
		total += n
	}
	if f.Response != nil {
		n, err := f.Response.Substitute(pattern, replacement, useRegex)
		if err != nil {
			return 0, fmt.Errorf("replace in response: %w", err)
		}
		total += n
	}
	if f.Error != nil {
		n, err := f.Error.Substitute(pattern, replacement, useRegex)
		if err != nil {
			return 0, fmt.Errorf("replace in error: %w", err)
		}
		total += n
	}
	return total, nil
}

// RunScript takes an implicit backup, serializes the flow, hands it to the
// external transform at path, and restores the flow from the transform's
// output on success. It returns the transform's captured stderr bytes.
// Failure (nonzero exit or unparseable output) is reported as a
// *script.ScriptError; the flow is left with its backup intact so a
// subsequent Revert recovers the pre-script state (spec.md §4.1, §7).
func (f *Flow) RunScript(path string) ([]byte, error) {
	f.Backup()

	input := f.Snapshot(false)
	output, stderr, err := script.Run(path, input)
	if err != nil {
		return stderr, err
	}

	f.Restore(output)
	return stderr, nil
}
