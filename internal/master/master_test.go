package master

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxycore/internal/flow"
	"proxycore/internal/playback/server"
	"proxycore/internal/sticky"
)

type fakeRequestAck struct {
	forwarded  bool
	respondedW *flow.Response
	deniedNull bool
}

func (a *fakeRequestAck) Forward() error { a.forwarded = true; return nil }
func (a *fakeRequestAck) RespondWith(resp *flow.Response) error {
	a.respondedW = resp
	return nil
}
func (a *fakeRequestAck) DenyNull() error { a.deniedNull = true; return nil }

type fakeResponseAck struct{ forwarded bool }

func (a *fakeResponseAck) Forward() error  { a.forwarded = true; return nil }
func (a *fakeResponseAck) DenyNull() error { return nil }

func newReq(host, path string) (*flow.Request, *fakeRequestAck) {
	req := &flow.Request{Host: host, Port: 80, Scheme: "http", Method: "GET", Path: path}
	ack := &fakeRequestAck{}
	req.SetAck(ack)
	return req, ack
}

func TestMaster_OnRequestForwardsWithoutIntercept(t *testing.T) {
	m := New()
	req, ack := newReq("example.com", "/a")

	f := m.OnRequest(req)
	assert.True(t, ack.forwarded)
	assert.False(t, f.Intercepting)
}

func TestMaster_InterceptGateWithholdsAck(t *testing.T) {
	m := New()
	pred, err := parseAlways(true)
	require.NoError(t, err)
	m.SetIntercept(pred)

	req, ack := newReq("example.com", "/a")
	f := m.OnRequest(req)

	assert.False(t, ack.forwarded)
	assert.True(t, f.Intercepting)

	require.NoError(t, f.AcceptIntercept())
	assert.True(t, ack.forwarded)
	assert.False(t, f.Intercepting)
}

func TestMaster_ServerPlaybackHitRespondsDirectly(t *testing.T) {
	m := New()

	recordedReq := &flow.Request{Host: "example.com", Port: 80, Scheme: "http", Method: "GET", Path: "/a"}
	recorded := flow.NewFlow(recordedReq)
	recorded.Response = &flow.Response{Status: 200, Request: recordedReq, Body: []byte("cached")}
	m.Server = server.New([]*flow.Flow{recorded}, nil)

	req, ack := newReq("example.com", "/a")
	f := m.OnRequest(req)

	require.NotNil(t, ack.respondedW)
	assert.Equal(t, 200, ack.respondedW.Status)
	assert.True(t, f.Response.IsReplay)
}

func TestMaster_KillNonreplayKillsLiveTrafficMissingPlayback(t *testing.T) {
	m := New()
	m.Modes.KillNonreplay = true

	req, ack := newReq("example.com", "/a")
	f := m.OnRequest(req)

	assert.False(t, ack.forwarded)
	assert.True(t, ack.deniedNull)
	require.NotNil(t, f.Error)
	assert.False(t, f.Request.IsReplay, "kill_nonreplay must also catch live, non-replayed traffic")
}

func TestMaster_OnResponseDanglingAcksDirectly(t *testing.T) {
	m := New()
	resp := &flow.Response{Status: 200, Request: &flow.Request{Host: "example.com"}}
	ack := &fakeResponseAck{}
	resp.SetAck(ack)

	m.OnResponse(resp)
	assert.True(t, ack.forwarded)
}

func TestMaster_OnResponseRunsStickyCookieHook(t *testing.T) {
	m := New()
	m.CookieJar = sticky.NewCookieJar(nil) // nil matches everything; sticky cookie enabled for this test
	req, _ := newReq("example.com", "/a")
	f := m.OnRequest(req)

	resp := &flow.Response{Status: 200, Request: req}
	resp.Headers.Add("Set-Cookie", "sid=1; Domain=example.com; Path=/")
	respAck := &fakeResponseAck{}
	resp.SetAck(respAck)

	m.OnResponse(resp)
	assert.True(t, respAck.forwarded)

	req2, _ := newReq("example.com", "/a")
	f2 := m.OnRequest(req2)
	assert.True(t, f2.Request.Headers.Has("Cookie"))
	_ = f
}

func TestMaster_ReplayOutcomePostedThroughEventQueue(t *testing.T) {
	m := New()
	req, _ := newReq("example.com", "/a")
	f := m.OnRequest(req)
	f.Intercepting = false

	m.Upstream = fakeUpstream{resp: &flow.Response{Status: 204, Request: req}}
	m.ReplayRequest(f)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Tick(ctx)

	assert.Equal(t, 204, f.Response.Status)
}

type fakeUpstream struct {
	resp *flow.Response
	err  error
}

func (u fakeUpstream) Send(req *flow.Request) (*flow.Response, error) { return u.resp, u.err }

type alwaysPredicate struct{ v bool }

func (p alwaysPredicate) Evaluate(*flow.Flow) bool { return p.v }

func parseAlways(v bool) (flow.Predicate, error) { return alwaysPredicate{v}, nil }
