package flow

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RequestAck is the transport-owned acknowledgement handle for a Request.
// Exactly one of Forward, RespondWith, or DenyNull may be called for a
// given request — the core enforces this with the Request.acked marker
// (spec.md §5).
type RequestAck interface {
	// Forward tells the transport to send the request upstream unmodified.
	Forward() error
	// RespondWith short-circuits the request with a synthesized response,
	// without contacting upstream (server playback, spec.md §4.5).
	RespondWith(resp *Response) error
	// DenyNull acknowledges the request with no response, terminating it.
	DenyNull() error
}

// Request is the atomic unit of an intercepted HTTP request (spec.md §3).
type Request struct {
	Host    string
	Port    int
	Scheme  string
	Method  string
	Path    string
	Headers Headers
	Body    []byte

	// ClientConn is a back-reference to the originating client connection.
	// Client playback strips it before re-injecting a recorded request
	// (spec.md §4.6).
	ClientConn string

	// IsReplay marks a request that was replayed rather than intercepted
	// live (client playback or replay_request, spec.md §4.7).
	IsReplay bool

	// StickyCookie marks a request that received a cookie header from the
	// sticky cookie jar (spec.md §4.3).
	StickyCookie bool

	ack   RequestAck
	acked bool
}

// SetAck attaches the transport's single-shot acknowledgement handle.
func (r *Request) SetAck(ack RequestAck) { r.ack = ack }

// Acked reports whether the request has already been acknowledged.
func (r *Request) Acked() bool { return r.acked }

// Forward acknowledges the request so the transport proceeds upstream.
func (r *Request) Forward() error {
	if r.acked || r.ack == nil {
		return nil
	}
	r.acked = true
	return r.ack.Forward()
}

// RespondWith acknowledges the request with a synthesized response.
func (r *Request) RespondWith(resp *Response) error {
	if r.acked || r.ack == nil {
		return nil
	}
	r.acked = true
	return r.ack.RespondWith(resp)
}

// DenyNull acknowledges the request with no response (kill).
func (r *Request) DenyNull() error {
	if r.acked || r.ack == nil {
		return nil
	}
	r.acked = true
	return r.ack.DenyNull()
}

// MarkReplay marks the request as a replay.
func (r *Request) MarkReplay() { r.IsReplay = true }

// Anticache strips conditional-request headers so a replayed or
// server-played request cannot be satisfied with a 304 (spec.md §3).
func (r *Request) Anticache() {
	for _, name := range []string{"If-Modified-Since", "If-None-Match", "If-Range", "If-Unmodified-Since", "If-Match"} {
		r.Headers.Del(name)
	}
}

// Anticomp strips content-encoding offers so the response comes back
// uncompressed and is easy to inspect/modify (spec.md §3).
func (r *Request) Anticomp() {
	r.Headers.Set("Accept-Encoding", "identity")
}

// SyncContentLength sets Content-Length to the actual body length.
func (r *Request) SyncContentLength() {
	if len(r.Body) == 0 && !r.Headers.Has("Content-Length") {
		return
	}
	r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
}

// Clone returns a deep copy with a fresh (unset) acknowledgement handle.
func (r *Request) Clone() *Request {
	return &Request{
		Host:         r.Host,
		Port:         r.Port,
		Scheme:       r.Scheme,
		Method:       r.Method,
		Path:         r.Path,
		Headers:      r.Headers.Clone(),
		Body:         append([]byte(nil), r.Body...),
		ClientConn:   r.ClientConn,
		IsReplay:     r.IsReplay,
		StickyCookie: r.StickyCookie,
	}
}

// Substitute applies a literal or regex replacement over path, headers, and
// body, returning the number of replacements made (spec.md §3).
func (r *Request) Substitute(pattern, replacement string, useRegex bool) (int, error) {
	count := 0

	replaceIn := func(s string) (string, error) {
		if useRegex {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return s, fmt.Errorf("compile pattern: %w", err)
			}
			n := len(re.FindAllStringIndex(s, -1))
			count += n
			return re.ReplaceAllString(s, replacement), nil
		}
		count += strings.Count(s, pattern)
		return strings.ReplaceAll(s, pattern, replacement), nil
	}

	newPath, err := replaceIn(r.Path)
	if err != nil {
		return 0, err
	}
	r.Path = newPath

	for i := range r.Headers {
		for j, v := range r.Headers[i].Values {
			nv, err := replaceIn(v)
			if err != nil {
				return 0, err
			}
			r.Headers[i].Values[j] = nv
		}
	}

	newBody, err := replaceIn(string(r.Body))
	if err != nil {
		return 0, err
	}
	r.Body = []byte(newBody)

	return count, nil
}

// Snapshot renders the request as the primitive-valued map used in flow
// snapshots and the flow log (spec.md §6).
func (r *Request) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"host":    r.Host,
		"port":    r.Port,
		"scheme":  r.Scheme,
		"method":  r.Method,
		"path":    r.Path,
		"headers": r.Headers.ToList(),
		"content": base64.StdEncoding.EncodeToString(r.Body),
	}
}

// RestoreRequest reconstructs a Request from its snapshot map.
func RestoreRequest(m map[string]interface{}) *Request {
	if m == nil {
		return nil
	}
	r := &Request{}
	r.Host, _ = m["host"].(string)
	r.Scheme, _ = m["scheme"].(string)
	r.Method, _ = m["method"].(string)
	r.Path, _ = m["path"].(string)
	switch p := m["port"].(type) {
	case float64:
		r.Port = int(p)
	case int:
		r.Port = p
	}
	switch hl := m["headers"].(type) {
	case []interface{}:
		r.Headers = HeadersFromList(hl)
	case [][2]interface{}:
		list := make([]interface{}, len(hl))
		for i, pair := range hl {
			list[i] = []interface{}{pair[0], pair[1]}
		}
		r.Headers = HeadersFromList(list)
	}
	if content, ok := m["content"].(string); ok {
		if body, err := base64.StdEncoding.DecodeString(content); err == nil {
			r.Body = body
		}
	}
	return r
}
