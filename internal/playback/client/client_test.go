package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxycore/internal/flow"
)

type fakeSubmitter struct {
	produceResponse bool
	handled         []*flow.Request
}

func (s *fakeSubmitter) HandleRequest(req *flow.Request) *flow.Flow {
	s.handled = append(s.handled, req)
	f := flow.NewFlow(req)
	if s.produceResponse {
		f.Response = &flow.Response{Status: 200, Request: req}
	}
	return f
}

type fakeReplayer struct {
	replayed []*flow.Flow
}

func (r *fakeReplayer) ReplayRequest(f *flow.Flow) {
	r.replayed = append(r.replayed, f)
}

func newQueuedFlow(path string) *flow.Flow {
	req := &flow.Request{Host: "example.com", Port: 80, Scheme: "http", Method: "GET", Path: path, ClientConn: "conn-1"}
	return flow.NewFlow(req)
}

func TestEngine_TickStripsClientConnAndMarksReplay(t *testing.T) {
	e := New([]*flow.Flow{newQueuedFlow("/a")})
	sub := &fakeSubmitter{}
	rep := &fakeReplayer{}

	e.Tick(sub, rep)

	require.Len(t, sub.handled, 1)
	assert.Equal(t, "", sub.handled[0].ClientConn)
	assert.True(t, sub.handled[0].IsReplay)
}

func TestEngine_TickInitiatesReplayOnlyWithoutSynchronousResponse(t *testing.T) {
	e := New([]*flow.Flow{newQueuedFlow("/a")})
	sub := &fakeSubmitter{produceResponse: true}
	rep := &fakeReplayer{}

	e.Tick(sub, rep)
	assert.Empty(t, rep.replayed, "a synchronous response (e.g. server playback) must not trigger replay")
}

func TestEngine_TickTriggersReplayOnMiss(t *testing.T) {
	e := New([]*flow.Flow{newQueuedFlow("/a")})
	sub := &fakeSubmitter{produceResponse: false}
	rep := &fakeReplayer{}

	e.Tick(sub, rep)
	assert.Len(t, rep.replayed, 1)
}

func TestEngine_AtMostOneCurrent(t *testing.T) {
	e := New([]*flow.Flow{newQueuedFlow("/a"), newQueuedFlow("/b")})
	sub := &fakeSubmitter{}
	rep := &fakeReplayer{}

	e.Tick(sub, rep)
	assert.False(t, e.Done())
	require.Len(t, sub.handled, 1)

	e.Tick(sub, rep)
	assert.Len(t, sub.handled, 1, "a second Tick must not submit while current is occupied")
}

func TestEngine_DoneIffEmptyAndNoCurrent(t *testing.T) {
	e := New(nil)
	assert.True(t, e.Done())

	e2 := New([]*flow.Flow{newQueuedFlow("/a")})
	sub := &fakeSubmitter{}
	rep := &fakeReplayer{}
	e2.Tick(sub, rep)
	assert.False(t, e2.Done())

	e2.Clear(e2.current)
	assert.True(t, e2.Done())
}
