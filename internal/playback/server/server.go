// Package server implements server-side response playback: recorded flows
// are indexed by a stable fingerprint of their request, and a matching live
// request is answered with the next queued response in FIFO order
// (spec.md §3, §4.5).
package server

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"proxycore/internal/flow"
)

// Engine holds the fingerprint -> FIFO-queue-of-flows map built from a set
// of recorded, response-bearing flows.
type Engine struct {
	allowlist []string
	queues    map[[sha256.Size]byte][]*flow.Flow
}

// New builds an Engine from recorded flows, using headerAllowlist (in its
// declared order) as part of the fingerprint when non-empty.
func New(recorded []*flow.Flow, headerAllowlist []string) *Engine {
	e := &Engine{
		allowlist: append([]string(nil), headerAllowlist...),
		queues:    make(map[[sha256.Size]byte][]*flow.Flow),
	}
	for _, f := range recorded {
		if f.Request == nil || f.Response == nil {
			continue
		}
		key := e.Fingerprint(f.Request)
		e.queues[key] = append(e.queues[key], f)
	}
	return e
}

// Fingerprint computes the stable digest over host, port, scheme, method,
// path, body, and — if an allowlist is configured — the ordered
// (name, values) pairs of each allowlisted header, in the allowlist's
// declared order (spec.md §4.5, §6). The encoding must be stable across
// process restarts for playback to remain compatible.
func (e *Engine) Fingerprint(req *flow.Request) [sha256.Size]byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%d\x00%s\x00%s\x00%s\x00", req.Host, req.Port, req.Scheme, req.Method, req.Path)
	b.Write(req.Body)
	b.WriteByte(0)

	for _, name := range e.allowlist {
		b.WriteString(strings.ToLower(name))
		b.WriteByte(0)
		for _, v := range req.Headers.Values(name) {
			b.WriteString(v)
			b.WriteByte(0)
		}
	}

	return sha256.Sum256([]byte(b.String()))
}

// NextFlow pops the head of the bucket matching req's fingerprint, or
// returns (nil, false) if the bucket is empty or unknown — a miss.
func (e *Engine) NextFlow(req *flow.Request) (*flow.Flow, bool) {
	key := e.Fingerprint(req)
	queue := e.queues[key]
	if len(queue) == 0 {
		return nil, false
	}
	e.queues[key] = queue[1:]
	return queue[0], true
}

// Count returns the sum of all queue lengths.
func (e *Engine) Count() int {
	total := 0
	for _, q := range e.queues {
		total += len(q)
	}
	return total
}

