package flow

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ResponseAck is the transport-owned acknowledgement handle for a Response.
type ResponseAck interface {
	// Forward tells the transport to deliver the response to the client.
	Forward() error
	// DenyNull acknowledges the response with nothing, terminating it.
	DenyNull() error
}

// Response is the atomic unit of an intercepted HTTP response (spec.md §3).
type Response struct {
	Status  int
	Headers Headers
	Body    []byte

	// Request is an owned back-reference: a Response is meaningless
	// without its Request.
	Request *Request

	IsReplay bool

	ack   ResponseAck
	acked bool
}

func (r *Response) SetAck(ack ResponseAck) { r.ack = ack }
func (r *Response) Acked() bool            { return r.acked }

func (r *Response) Forward() error {
	if r.acked || r.ack == nil {
		return nil
	}
	r.acked = true
	return r.ack.Forward()
}

func (r *Response) DenyNull() error {
	if r.acked || r.ack == nil {
		return nil
	}
	r.acked = true
	return r.ack.DenyNull()
}

func (r *Response) MarkReplay() { r.IsReplay = true }

// Clone returns a copy of the response re-pointed at liveReq, with a fresh
// (unset) acknowledgement handle — used when server playback returns a
// canned response to a new live request (spec.md §4.5).
func (r *Response) Clone(liveReq *Request) *Response {
	return &Response{
		Status:  r.Status,
		Headers: r.Headers.Clone(),
		Body:    append([]byte(nil), r.Body...),
		Request: liveReq,
	}
}

// Refresh updates date-sensitive headers relative to now, for stale recorded
// responses being replayed: Date is set to now, and Expires plus any
// expires= attribute of a Set-Cookie value are shifted by the same amount.
// Set-Cookie Max-Age attributes are not changed.
// The shift is computed from the response's original Date header so that
// its freshness window relative to now is preserved rather than reset.
func (r *Response) Refresh(now time.Time) {
	var delta time.Duration
	if orig := r.Headers.Get("Date"); orig != "" {
		if t, err := time.Parse(time.RFC1123, orig); err == nil {
			delta = now.Sub(t)
		}
	}
	r.Headers.Set("Date", now.UTC().Format(time.RFC1123))

	if exp := r.Headers.Get("Expires"); exp != "" {
		if t, err := time.Parse(time.RFC1123, exp); err == nil {
			r.Headers.Set("Expires", t.Add(delta).UTC().Format(time.RFC1123))
		}
	}

	maxAgeRe := regexp.MustCompile(`(?i)(max-age=)(\d+)`)
	expiresRe := regexp.MustCompile(`(?i)(expires=)([^;]+)`)
	for i := range r.Headers {
		if !strings.EqualFold(r.Headers[i].Name, "Set-Cookie") {
			continue
		}
		for j, v := range r.Headers[i].Values {
			v = expiresRe.ReplaceAllStringFunc(v, func(m string) string {
				parts := expiresRe.FindStringSubmatch(m)
				t, err := time.Parse(time.RFC1123, strings.TrimSpace(parts[2]))
				if err != nil {
					return m
				}
				return parts[1] + t.Add(delta).UTC().Format(time.RFC1123)
			})
			_ = maxAgeRe // Max-Age is already relative-to-receipt; left untouched.
			r.Headers[i].Values[j] = v
		}
	}
}

// Substitute applies a literal or regex replacement over headers and body,
// returning the number of replacements made (spec.md §3).
func (r *Response) Substitute(pattern, replacement string, useRegex bool) (int, error) {
	count := 0
	replaceIn := func(s string) (string, error) {
		if useRegex {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return s, err
			}
			count += len(re.FindAllStringIndex(s, -1))
			return re.ReplaceAllString(s, replacement), nil
		}
		count += strings.Count(s, pattern)
		return strings.ReplaceAll(s, pattern, replacement), nil
	}

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

// SyncContentLength sets Content-Length to the actual body length.
func (r *Response) SyncContentLength() {
	r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
}

// Snapshot renders the response as the primitive-valued map used in flow
// snapshots and the flow log (spec.md §6).
func (r *Response) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"status":  r.Status,
		"headers": r.Headers.ToList(),
		"content": base64.StdEncoding.EncodeToString(r.Body),
	}
}

// RestoreResponse reconstructs a Response from its snapshot map. req is the
// owning Request (the snapshot itself carries no request back-reference).
func RestoreResponse(m map[string]interface{}, req *Request) *Response {
	if m == nil {
		return nil
	}
	r := &Response{Request: req}
	switch s := m["status"].(type) {
	case float64:
		r.Status = int(s)
	case int:
		r.Status = s
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
