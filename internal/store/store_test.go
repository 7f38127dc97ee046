package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxycore/internal/filter"
	"proxycore/internal/flow"
)

func newReq(host, path string) *flow.Request {
	return &flow.Request{Host: host, Port: 80, Scheme: "http", Method: "GET", Path: path}
}

func TestStore_AddRequestAddsToListAndView(t *testing.T) {
	s := New()
	req := newReq("example.com", "/a")
	f := s.AddRequest(req)

	assert.Len(t, s.Snapshot(), 1)
	got, ok := s.Get(f.ID())
	require.True(t, ok)
	assert.Same(t, f, got)
}

func TestStore_AddResponseDangling(t *testing.T) {
	s := New()
	resp := &flow.Response{Status: 200, Request: newReq("example.com", "/a")}
	_, ok := s.AddResponse(resp)
	assert.False(t, ok, "response with an unknown request must be reported dangling")
}

func TestStore_AddResponseAttachesToOwningFlow(t *testing.T) {
	s := New()
	req := newReq("example.com", "/a")
	f := s.AddRequest(req)

	resp := &flow.Response{Status: 200, Request: req}
	got, ok := s.AddResponse(resp)
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.Same(t, resp, f.Response)
}

func TestStore_ViewConsistentAfterSetLimit(t *testing.T) {
	s := New()
	s.AddRequest(newReq("example.com", "/a"))
	s.AddRequest(newReq("other.com", "/b"))
	s.AddRequest(newReq("example.com", "/c"))

	err := s.SetLimit(filter.Parse, "~h example.com")
	require.NoError(t, err)

	view := s.Snapshot()
	require.Len(t, view, 2)
	assert.Equal(t, "/a", view[0].Request.Path)
	assert.Equal(t, "/c", view[1].Request.Path)
}

func TestStore_SetLimitParseErrorLeavesStateUnchanged(t *testing.T) {
	s := New()
	s.AddRequest(newReq("example.com", "/a"))

	err := s.SetLimit(filter.Parse, "~bogus")
	assert.Error(t, err)
	assert.Len(t, s.Snapshot(), 1, "a failed parse must not change the view")
}

func TestStore_DeleteFlowRemovesFromListAndView(t *testing.T) {
	s := New()
	f := s.AddRequest(newReq("example.com", "/a"))
	s.DeleteFlow(f)

	assert.Len(t, s.Snapshot(), 0)
	_, ok := s.Get(f.ID())
	assert.False(t, ok)
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	s := New()
	s.AddRequest(newReq("example.com", "/a"))
	s.AddRequest(newReq("example.com", "/b"))
	s.Clear()
	assert.Len(t, s.Snapshot(), 0)
}

func TestStore_AcceptAllAcceptsOnlyInterceptingFlows(t *testing.T) {
	s := New()
	f1 := s.AddRequest(newReq("example.com", "/a"))
	f2 := s.AddRequest(newReq("example.com", "/b"))
	f1.Intercept()

	s.AcceptAll()
	assert.False(t, f1.Intercepting)
	assert.False(t, f2.Intercepting)
}

func TestStore_KillAllNotifiesEveryFlow(t *testing.T) {
	s := New()
	s.AddRequest(newReq("example.com", "/a"))
	s.AddRequest(newReq("example.com", "/b"))

	count := 0
	s.KillAll(func(*flow.Flow, *flow.ErrorArtifact) { count++ })
	assert.Equal(t, 2, count)
}
