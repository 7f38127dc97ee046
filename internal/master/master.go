// Package master implements the FlowMaster dispatcher: the single
// coordinator that receives transport events, runs them through the store
// and the session/playback policies, and decides acknowledgements
// (spec.md §4.7, §5).
package master

import (
	"context"
	"time"

	"proxycore/internal/filter"
	"proxycore/internal/flow"
	"proxycore/internal/flowlog"
	"proxycore/internal/logging"
	"proxycore/internal/playback/client"
	"proxycore/internal/playback/server"
	"proxycore/internal/sticky"
	"proxycore/internal/store"
)

var log = logging.New("master")

// Transport is the external collaborator that yields request, response,
// and error events and receives acknowledgements (spec.md §1's "out of
// scope... transport/parsing layer"). SPEC_FULL names this type so the
// dispatcher is testable against a fake without implementing the real
// wire-level proxy engine.
type Transport struct {
	// Events is read by Tick; nil is never sent, the channel is closed to
	// signal the transport has no more events.
	Events <-chan Event
}

// EventKind discriminates the closed sum-type carried by Event.
type EventKind int

const (
	RequestEvent EventKind = iota
	ResponseEvent
	ErrorEvent
	ConnectEvent
	DisconnectEvent
	ReplayOutcomeEvent
	SetInterceptEvent
	LoadClientPlaybackEvent
)

// Event is the single message type posted onto Master.EventQueue, by
// either the transport or a replay worker (spec.md §5: "workers... post
// completion events back onto the dispatcher queue").
type Event struct {
	Kind EventKind

	Request    *flow.Request
	Response   *flow.Response
	Error      *flow.ErrorArtifact
	ConnID     string
	ReplayFlow *flow.Flow
	Predicate  flow.Predicate
	Flows      []*flow.Flow
}

// Modes bundles the dispatcher's boolean behavior switches (spec.md §4.7).
type Modes struct {
	Anticache             bool
	Anticomp              bool
	RefreshServerPlayback bool
	KillNonreplay         bool
}

// Upstream performs the live-upstream round trip for replay_request. It is
// run from a worker goroutine and must not touch the store directly — it
// returns its outcome as a value, which Master.ReplayRequest posts back as
// an event (spec.md §5, §9 "task-and-message-passing over shared-memory
// updates from workers").
type Upstream interface {
	Send(req *flow.Request) (*flow.Response, error)
}

// Master is the FlowMaster: it owns the store, the policies, the playback
// engines, and the boolean modes, and drives the single-dispatcher-thread
// event loop (spec.md §4.7, §5).
type Master struct {
	Store      *store.Store
	CookieJar  *sticky.CookieJar
	AuthMemory *sticky.AuthMemory

	// Server and Client are nil until a caller explicitly configures that
	// playback mode (server.New/client.New or PostClientPlayback). A nil
	// value means "not configured", not "drained" — Tick's shutdown check
	// relies on the distinction.
	Server *server.Engine
	Client *client.Engine

	Upstream  Upstream
	Transport *Transport
	Modes     Modes

	interceptFilter flow.Predicate

	EventQueue chan Event

	shutdown bool
}

// New constructs a Master with an empty store and no configured policies.
// Server and Client start nil — neither playback mode is configured, matching
// the Python original's client_playback/server_playback attributes starting
// as None until a caller explicitly starts one. Callers set
// CookieJar/AuthMemory/Server/Client/Upstream/Modes and an intercept filter
// (SetIntercept) before calling Run.
func New() *Master {
	return &Master{
		Store:           store.New(),
		CookieJar:       sticky.NewCookieJar(filter.Never),
		AuthMemory:      sticky.NewAuthMemory(filter.Never),
		EventQueue:      make(chan Event, 256),
		interceptFilter: filter.Never,
	}
}

// SetIntercept installs the compiled predicate that gates interception.
// It mutates Master directly and is only safe to call before Run starts the
// dispatcher loop (e.g. at startup wiring); once Run is running, use
// PostInterceptFilter so the change is applied on the dispatcher's own
// goroutine instead of racing with Tick (spec.md §5).
func (m *Master) SetIntercept(pred flow.Predicate) { m.interceptFilter = pred }

// PostInterceptFilter enqueues pred to be installed as the interception
// gate by the dispatcher loop itself, avoiding a data race with Tick when
// called concurrently with Run (spec.md §5).
func (m *Master) PostInterceptFilter(pred flow.Predicate) {
	m.EventQueue <- Event{Kind: SetInterceptEvent, Predicate: pred}
}

// PostClientPlayback enqueues a fresh client-playback queue built from
// flows, to be installed by the dispatcher loop, avoiding a data race with
// Tick when called concurrently with Run (spec.md §5).
func (m *Master) PostClientPlayback(flows []*flow.Flow) {
	m.EventQueue <- Event{Kind: LoadClientPlaybackEvent, Flows: flows}
}

// HandleRequest implements client.Submitter: it is the entry
// point client playback (and replay tooling) use to feed a recorded
// request back through normal processing (spec.md §4.6).
func (m *Master) HandleRequest(req *flow.Request) *flow.Flow {
	return m.OnRequest(req)
}

// OnRequest handles a request event: store.add_request, run
// process_new_request, and return the resulting flow (spec.md §4.7).
func (m *Master) OnRequest(req *flow.Request) *flow.Flow {
	f := m.Store.AddRequest(req)
	m.processNewRequest(f)
	return f
}

// processNewRequest runs sticky cookie, sticky auth, anticache, anticomp,
// then server playback, and finally the interception gate and
// acknowledgement (spec.md §4.7).
func (m *Master) processNewRequest(f *flow.Flow) {
	m.CookieJar.OnRequest(f)
	m.AuthMemory.OnRequest(f)

	if m.Modes.Anticache {
		f.Request.Anticache()
	}
	if m.Modes.Anticomp {
		f.Request.Anticomp()
	}

	if m.Server != nil {
		if hit, ok := m.Server.NextFlow(f.Request); ok {
			resp := hit.Response.Clone(f.Request)
			resp.MarkReplay()
			if m.Modes.RefreshServerPlayback {
				resp.Refresh(time.Now())
			}
			f.Response = resp
			m.ackOrIntercept(f)
			return
		}
	}

	if m.Modes.KillNonreplay {
		if err := f.Kill(m.notifyError); err != nil {
			log.WithError(err).Warn("kill on playback miss failed")
		}
		return
	}

	m.ackOrIntercept(f)
}

// ackOrIntercept realizes the interception gate: a flow matching the
// intercept filter has Intercepting set and its acknowledgement withheld
// until an external caller calls AcceptIntercept or Kill. Otherwise the
// pending artifact (response if set, else request) is forwarded
// immediately (spec.md §4.7's "realize this gate at the point just before
// acknowledging").
func (m *Master) ackOrIntercept(f *flow.Flow) {
	if f.Match(m.interceptFilter) {
		f.Intercept()
		return
	}

	var err error
	if f.Response != nil {
		err = f.Request.RespondWith(f.Response)
	} else {
		err = f.Request.Forward()
	}
	if err != nil {
		log.WithError(err).Warn("acknowledgement failed")
	}
}

// OnResponse handles a response event: store.add_response, notify client
// playback, and either acknowledge directly (dangling response, spec.md
// §7's protocol error) or run the sticky cookie response hook followed by
// the interception gate (spec.md §4.7).
func (m *Master) OnResponse(resp *flow.Response) {
	f, ok := m.Store.AddResponse(resp)
	if !ok {
		if err := resp.Forward(); err != nil {
			log.WithError(err).Warn("dangling response ack failed")
		}
		return
	}

	if m.Client != nil {
		m.Client.Clear(f)
	}
	m.CookieJar.OnResponse(f)

	if f.Match(m.interceptFilter) {
		f.Intercept()
		return
	}
	if err := resp.Forward(); err != nil {
		log.WithError(err).Warn("response ack failed")
	}
}

// OnError handles an error event: store.add_error, notify client playback,
// acknowledge. Dangling errors (no known request) are acknowledged
// directly and dropped (spec.md §4.7, §7).
func (m *Master) OnError(errArtifact *flow.ErrorArtifact) {
	f, ok := m.Store.AddError(errArtifact)
	if ok && m.Client != nil {
		m.Client.Clear(f)
	}
	if err := errArtifact.Forward(); err != nil {
		log.WithError(err).Warn("error ack failed")
	}
}

// notifyError adapts flow.Flow.Kill's notify callback to OnError, so
// Store.KillAll and Flow.Kill funnel through the same path as a live
// on_error event.
func (m *Master) notifyError(f *flow.Flow, errArtifact *flow.ErrorArtifact) {
	m.OnError(errArtifact)
}

// OnClientConnect records a client connection event by logging it. The
// event carries no acknowledgement handle, so nothing is acknowledged.
// The transport supplies connID; this core has no connection table of its
// own to populate beyond logging (the transport/session layer owns that
// state, per spec.md §1).
func (m *Master) OnClientConnect(connID string) {
	log.WithField("conn_id", connID).Debug("client connected")
}

// OnClientDisconnect records a client disconnection event.
func (m *Master) OnClientDisconnect(connID string) {
	log.WithField("conn_id", connID).Debug("client disconnected")
}

// ReplayRequest rejects flows that are intercepting; otherwise marks the
// request as replay, synchronizes content length, clears any prior
// response/error, reruns process_new_request, and — if that did not
// synchronously resolve the flow — spawns a worker to perform the live
// upstream round trip, posting its outcome back onto EventQueue rather
// than mutating the flow directly (spec.md §4.7, §5).
func (m *Master) ReplayRequest(f *flow.Flow) {
	if f.Intercepting {
		log.WithField("flow_id", f.ID().String()).Debug("replay_request rejected: flow is intercepting")
		return
	}

	f.Request.MarkReplay()
	f.Request.SyncContentLength()
	f.Response = nil
	f.Error = nil

	m.processNewRequest(f)
	if f.Response != nil || f.Error != nil {
		return
	}

	if m.Upstream == nil {
		return
	}

	go func() {
		resp, err := m.Upstream.Send(f.Request)
		if err != nil {
			m.EventQueue <- Event{Kind: ReplayOutcomeEvent, ReplayFlow: f, Error: flow.NewErrorArtifact(f.Request, err.Error())}
			return
		}
		m.EventQueue <- Event{Kind: ReplayOutcomeEvent, ReplayFlow: f, Response: resp}
	}()
}

// Tick drains one pending event (if any), drives client playback, and
// evaluates the cooperative-shutdown condition (spec.md §4.7, §5).
//
// Shutdown is requested when client playback is done, or when server
// playback is drained. Whether other flows in the store still await a
// response or error is not checked. Both checks only fire when that playback mode was
// actually configured (Server/Client non-nil); Master.New leaves both nil,
// so an ordinary `serve` run with neither mode configured never
// self-terminates on the first Tick.
func (m *Master) Tick(ctx context.Context) {
	var transportEvents <-chan Event
	if m.Transport != nil {
		transportEvents = m.Transport.Events
	}

	select {
	case ev, ok := <-m.EventQueue:
		if !ok {
			m.shutdown = true
			return
		}
		m.dispatch(ev)
	case ev, ok := <-transportEvents:
		if !ok {
			m.shutdown = true
			return
		}
		m.dispatch(ev)
	case <-ctx.Done():
		m.shutdown = true
		return
	case <-time.After(50 * time.Millisecond):
	}

	if m.Client != nil {
		m.Client.Tick(m, m)
		if m.Client.Done() {
			m.shutdown = true
		}
	}

	if m.Server != nil && m.Server.Count() == 0 {
		m.shutdown = true
	}
}

func (m *Master) dispatch(ev Event) {
	switch ev.Kind {
	case RequestEvent:
		m.OnRequest(ev.Request)
	case ResponseEvent:
		m.OnResponse(ev.Response)
	case ErrorEvent:
		m.OnError(ev.Error)
	case ConnectEvent:
		m.OnClientConnect(ev.ConnID)
	case DisconnectEvent:
		m.OnClientDisconnect(ev.ConnID)
	case ReplayOutcomeEvent:
		m.handleReplayOutcome(ev)
	case SetInterceptEvent:
		m.interceptFilter = ev.Predicate
	case LoadClientPlaybackEvent:
		m.Client = client.New(ev.Flows)
	}
}

func (m *Master) handleReplayOutcome(ev Event) {
	f := ev.ReplayFlow
	if f == nil {
		return
	}
	if ev.Error != nil {
		f.Error = ev.Error
	} else {
		f.Response = ev.Response
	}
	if m.Client != nil {
		m.Client.Clear(f)
	}
}

// Run drives Tick in a loop until the cooperative-shutdown condition
// fires or ctx is cancelled (spec.md §4.7, §5).
func (m *Master) Run(ctx context.Context) {
	for {
		if m.shutdown {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
			m.Tick(ctx)
		}
	}
}

// LoadFlows replays every event of each flow from the reader through the
// normal handlers to rebuild state, matching spec.md §4.7's load_flows.
func (m *Master) LoadFlows(reader *flowlog.Reader) error {
	snapshots, err := reader.ReadAll()
	if err != nil {
		return err
	}

	for _, snap := range snapshots {
		f := &flow.Flow{}
		f.Restore(snap)
		if f.Request == nil {
			continue
		}
		m.OnRequest(f.Request)
		if f.Response != nil {
			m.OnResponse(f.Response)
		}
		if f.Error != nil {
			m.OnError(f.Error)
		}
	}
	return nil
}
