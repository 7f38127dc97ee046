package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxycore/internal/flow"
	"proxycore/internal/master"
)

type fakeAck struct{}

func (fakeAck) Forward() error                     { return nil }
func (fakeAck) RespondWith(resp *flow.Response) error { return nil }
func (fakeAck) DenyNull() error                    { return nil }

func newTestEcho(t *testing.T) (*echo.Echo, *Handlers) {
	t.Helper()
	m := master.New()
	e := echo.New()
	h := &Handlers{Master: m}
	SetupRoutes(e, h, "")
	return e, h
}

func TestListFlows_EmptyStore(t *testing.T) {
	e, _ := newTestEcho(t)
	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetFlow_NotFound(t *testing.T) {
	e, _ := newTestEcho(t)
	req := httptest.NewRequest(http.MethodGet, "/flows/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcceptFlow_AcknowledgesInterceptedFlow(t *testing.T) {
	e, h := newTestEcho(t)

	reqArtifact := &flow.Request{Host: "example.com", Port: 80, Scheme: "http", Method: "GET", Path: "/a"}
	reqArtifact.SetAck(fakeAck{})
	f := h.Master.Store.AddRequest(reqArtifact)
	f.Intercept()

	req := httptest.NewRequest(http.MethodPost, "/flows/"+f.ID().String()+"/accept", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.Intercepting)
}

func TestSetLimitFilter_InvalidExpressionReturnsBadRequest(t *testing.T) {
	e, _ := newTestEcho(t)
	body := strings.NewReader(`{"expression":"~bogus"}`)
	req := httptest.NewRequest(http.MethodPut, "/filters/limit", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetInterceptFilter_PostsThroughEventQueueInsteadOfMutatingDirectly(t *testing.T) {
	e, h := newTestEcho(t)

	body := strings.NewReader(`{"expression":"~m GET"}`)
	req := httptest.NewRequest(http.MethodPut, "/filters/intercept", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	before := &flow.Request{Host: "example.com", Port: 80, Scheme: "http", Method: "GET", Path: "/before"}
	before.SetAck(fakeAck{})
	assert.False(t, h.Master.OnRequest(before).Intercepting, "the handler must not install the filter directly")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Master.Tick(ctx)

	reqArtifact := &flow.Request{Host: "example.com", Port: 80, Scheme: "http", Method: "GET", Path: "/a"}
	reqArtifact.SetAck(fakeAck{})
	f := h.Master.OnRequest(reqArtifact)
	assert.True(t, f.Intercepting, "the posted filter should have been installed by Tick, not by the handler directly")
}

func TestLoadClientPlayback_PostsThroughEventQueueInsteadOfMutatingDirectly(t *testing.T) {
	e, h := newTestEcho(t)
	require.Nil(t, h.Master.Client, "client playback starts unconfigured")

	body := strings.NewReader("")
	req := httptest.NewRequest(http.MethodPost, "/playback/client/load", body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Nil(t, h.Master.Client, "the handler must not mutate Master.Client directly")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Master.Tick(ctx)

	assert.NotNil(t, h.Master.Client, "Tick should install the posted client playback queue")
}

func TestMutatingRoutesRequireAuthWhenSigningKeyConfigured(t *testing.T) {
	m := master.New()
	e := echo.New()
	h := &Handlers{Master: m}
	SetupRoutes(e, h, "supersecret")

	req := httptest.NewRequest(http.MethodPost, "/flows/00000000-0000-0000-0000-000000000000/accept", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "echojwt rejects a missing bearer token with 400")
}
