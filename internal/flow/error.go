package flow

import (
	"regexp"
	"strings"
)

// ErrorAck is the transport-owned acknowledgement handle for an ErrorArtifact.
type ErrorAck interface {
	// Forward acknowledges the error, letting the transport proceed however
	// it sees fit (usually tearing down the connection).
	Forward() error
}

// ErrorArtifact is a connection-level or transport-level failure attached to
// a flow (spec.md §3). Request may be nil for errors with no known origin
// (e.g. a connection error before any request was parsed).
type ErrorArtifact struct {
	Request *Request
	Message string

	ack   ErrorAck
	acked bool
}

// NewErrorArtifact constructs an error artifact with the given message,
// optionally attributed to req.
func NewErrorArtifact(req *Request, message string) *ErrorArtifact {
	return &ErrorArtifact{Request: req, Message: message}
}

func (e *ErrorArtifact) SetAck(ack ErrorAck) { e.ack = ack }
func (e *ErrorArtifact) Acked() bool         { return e.acked }

// Forward acknowledges the error artifact.
func (e *ErrorArtifact) Forward() error {
	if e.acked || e.ack == nil {
		return nil
	}
	e.acked = true
	return e.ack.Forward()
}

// Substitute applies a literal or regex replacement to the message, returning
// the number of replacements made.
func (e *ErrorArtifact) Substitute(pattern, replacement string, useRegex bool) (int, error) {
	if useRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return 0, err
		}
		count := len(re.FindAllStringIndex(e.Message, -1))
		e.Message = re.ReplaceAllString(e.Message, replacement)
		return count, nil
	}
	count := strings.Count(e.Message, pattern)
	e.Message = strings.ReplaceAll(e.Message, pattern, replacement)
	return count, nil
}

// Snapshot renders the error as the primitive-valued map used in flow
// snapshots and the flow log (spec.md §6).
func (e *ErrorArtifact) Snapshot() map[string]interface{} {
	return map[string]interface{}{"message": e.Message}
}

// RestoreErrorArtifact reconstructs an ErrorArtifact from its snapshot map.
// req is the owning Request, if known.
func RestoreErrorArtifact(m map[string]interface{}, req *Request) *ErrorArtifact {
	if m == nil {
		return nil
	}
	e := &ErrorArtifact{Request: req}
	e.Message, _ = m["message"].(string)
	return e
}
