// Package store holds the in-memory flow database: a keyed collection of
// flows plus a filter-derived view that must stay consistent with the
// insertion-ordered list under every mutation (spec.md §3, §4.2).
package store

import (
	"sync"

	"github.com/google/uuid"

	"proxycore/internal/flow"
	"proxycore/internal/logging"
)

var log = logging.New("store")

// Store is the flow store: all operations are synchronous and intended to
// be called from a single dispatcher thread (spec.md §5). The mutex guards
// against external readers (e.g. the admin API) taking a Snapshot
// concurrently with a dispatcher mutation; it is not a substitute for the
// single-writer discipline spec.md's concurrency model requires.
type Store struct {
	mu sync.RWMutex

	byID map[uuid.UUID]*flow.Flow
	list []*flow.Flow
	view []*flow.Flow

	limitFilter flow.Predicate
}

// New creates an empty store with no limit filter (everything matches).
func New() *Store {
	return &Store{byID: make(map[uuid.UUID]*flow.Flow)}
}

// AddRequest wraps req in a new flow, appends it to list, keys it by its
// identity, and adds it to the view if the limit filter matches.
func (s *Store) AddRequest(req *flow.Request) *flow.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := flow.NewFlow(req)
	s.byID[f.ID()] = f
	s.list = append(s.list, f)
	if f.Match(s.limitFilter) {
		s.view = append(s.view, f)
	}
	return f
}

// AddResponse attaches resp to the flow owning resp.Request. It returns
// (nil, false) if resp.Request is unknown (a dangling response — the
// transport layer acks it directly per spec.md §4.2, §7).
func (s *Store) AddResponse(resp *flow.Response) (*flow.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.lookupByRequest(resp.Request)
	if f == nil {
		return nil, false
	}
	wasMatching := f.Match(s.limitFilter)
	f.Response = resp
	s.syncViewMembership(f, wasMatching)
	return f, true
}

// AddError attaches err to the flow owning err.Request. It returns
// (nil, false) if err.Request is nil or unknown.
func (s *Store) AddError(err *flow.ErrorArtifact) (*flow.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.lookupByRequest(err.Request)
	if f == nil {
		return nil, false
	}
	wasMatching := f.Match(s.limitFilter)
	f.Error = err
	s.syncViewMembership(f, wasMatching)
	return f, true
}

func (s *Store) lookupByRequest(req *flow.Request) *flow.Flow {
	if req == nil {
		return nil
	}
	for _, f := range s.list {
		if f.Request == req {
			return f
		}
	}
	return nil
}

// syncViewMembership recomputes the view from the list, preserving order,
// when attaching a response or error changed whether f matches the limit
// filter; a flow can start or stop matching once it gains an artifact.
func (s *Store) syncViewMembership(f *flow.Flow, wasMatching bool) {
	if wasMatching == f.Match(s.limitFilter) {
		return
	}
	s.view = s.view[:0]
	for _, g := range s.list {
		if g.Match(s.limitFilter) {
			s.view = append(s.view, g)
		}
	}
}

// DeleteFlow removes f from the map, list, and view.
func (s *Store) DeleteFlow(f *flow.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, f.ID())
	s.list = removeFlow(s.list, f)
	s.view = removeFlow(s.view, f)
}

func removeFlow(flows []*flow.Flow, target *flow.Flow) []*flow.Flow {
	out := flows[:0]
	for _, f := range flows {
		if f != target {
			out = append(out, f)
		}
	}
	return out
}

// Clear deletes every flow.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[uuid.UUID]*flow.Flow)
	s.list = nil
	s.view = nil
}

// SetLimit parses text via internal/filter, and on success replaces the
// limit filter and recomputes the view from the list, preserving order. On
// failure it returns the parser's error string and leaves state unchanged.
func (s *Store) SetLimit(parse func(string) (flow.Predicate, error), text string) error {
	pred, err := parse(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.limitFilter = pred
	s.view = s.view[:0]
	for _, f := range s.list {
		if f.Match(s.limitFilter) {
			s.view = append(s.view, f)
		}
	}
	return nil
}

// AcceptAll calls AcceptIntercept on every intercepting flow.
func (s *Store) AcceptAll() {
	s.mu.Lock()
	flows := append([]*flow.Flow(nil), s.list...)
	s.mu.Unlock()

	for _, f := range flows {
		if f.Intercepting {
			if err := f.AcceptIntercept(); err != nil {
				log.WithError(err).Warn("accept_all: failed to accept intercepted flow")
			}
		}
	}
}

// KillAll kills every flow, notifying via notify (the master's error
// handler; see internal/flow.Flow.Kill).
func (s *Store) KillAll(notify func(*flow.Flow, *flow.ErrorArtifact)) {
	s.mu.Lock()
	flows := append([]*flow.Flow(nil), s.list...)
	s.mu.Unlock()

	for _, f := range flows {
		if err := f.Kill(notify); err != nil {
			log.WithError(err).Warn("killall: ack failed for flow")
		}
	}
}

// LoadFlows bulk-inserts flows (already-constructed, e.g. from the flow
// log), then recomputes the view once.
func (s *Store) LoadFlows(flows []*flow.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range flows {
		s.byID[f.ID()] = f
		s.list = append(s.list, f)
	}
	s.view = s.view[:0]
	for _, f := range s.list {
		if f.Match(s.limitFilter) {
			s.view = append(s.view, f)
		}
	}
}

// Snapshot returns the current view as a slice, taken under the store's
// lock so external readers (e.g. the admin API) never observe a torn
// mutation (spec.md §5's escape hatch for non-dispatcher-thread readers).
func (s *Store) Snapshot() []*flow.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*flow.Flow(nil), s.view...)
}

// Get returns the flow with the given id, if present.
func (s *Store) Get(id uuid.UUID) (*flow.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	return f, ok
}
