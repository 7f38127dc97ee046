// Package client implements client-side request playback: an ordered queue
// of recorded requests is injected one at a time through the live proxy,
// paced by a single "current" in-flight slot (spec.md §3, §4.6).
package client

import "proxycore/internal/flow"

// Submitter is the master's request-submission entry point: it enters req
// into the flow store and runs all normal policies, returning the flow it
// created (or matched). It mirrors master.handle_request in spec.md §4.6.
type Submitter interface {
	HandleRequest(req *flow.Request) *flow.Flow
}

// Replayer drives a flow's request to the live upstream when no response
// was produced synchronously by HandleRequest (e.g. no server-playback
// hit). It mirrors master.replay_request in spec.md §4.6, §4.7.
type Replayer interface {
	ReplayRequest(f *flow.Flow)
}

// Engine holds the ordered queue of flows to inject and the at-most-one
// currently in-flight flow.
type Engine struct {
	queue   []*flow.Flow
	current *flow.Flow
}

// New constructs an engine to replay flows in order.
func New(flows []*flow.Flow) *Engine {
	return &Engine{queue: append([]*flow.Flow(nil), flows...)}
}

// Tick pops the head of the queue if nothing is currently in flight, strips
// its client-connection back-reference, submits it via submitter (entering
// it into the flow store and running all normal policies), and — if no
// response was produced synchronously, e.g. by server playback — initiates
// live replay via replayer.
func (e *Engine) Tick(submitter Submitter, replayer Replayer) {
	if e.current != nil || len(e.queue) == 0 {
		return
	}

	next := e.queue[0]
	e.queue = e.queue[1:]

	next.Request.ClientConn = ""
	next.Request.MarkReplay()

	f := submitter.HandleRequest(next.Request)
	e.current = f

	if f.Response == nil && f.Error == nil {
		replayer.ReplayRequest(f)
	}
}

// Clear releases the current slot if f is the current flow — called when
// its response or error arrives.
func (e *Engine) Clear(f *flow.Flow) {
	if e.current == f {
		e.current = nil
	}
}

// Done reports whether the queue is empty and nothing is currently in flight.
func (e *Engine) Done() bool {
	return len(e.queue) == 0 && e.current == nil
}
