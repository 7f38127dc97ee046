// Package adminapi exposes internal/master.Master and internal/store.Store
// over HTTP: list/filter flows, accept/kill/replay an intercepted flow, set
// the limit/intercept filters, and export/import the flow log — the "user
// interface or scripting surface" spec.md §1 describes sitting above the
// core. Grounded on api/jwt.go's Handlers/SetupRoutes pattern.
package adminapi

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/google/uuid"

	"proxycore/internal/filter"
	"proxycore/internal/flow"
	"proxycore/internal/flowlog"
	"proxycore/internal/master"
)

// Handlers holds the service dependencies the admin routes operate on.
type Handlers struct {
	Master *master.Master
}

// SetupRoutes registers the admin API's routes on e. Mutating routes sit
// behind echojwt bearer auth when signingKey is non-empty; read routes
// (list/get) stay open for local tooling, matching api/jwt.go's
// public-vs-protected grouping.
func SetupRoutes(e *echo.Echo, h *Handlers, signingKey string) {
	e.Use(middleware.Recover())

	e.GET("/flows", h.ListFlows)
	e.GET("/flows/:id", h.GetFlow)

	mutating := e.Group("")
	if signingKey != "" {
		mutating.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(signingKey),
			TokenLookup: "header:Authorization:Bearer ",
		}))
	}

	mutating.POST("/flows/:id/accept", h.AcceptFlow)
	mutating.POST("/flows/:id/kill", h.KillFlow)
	mutating.POST("/flows/:id/replay", h.ReplayFlow)
	mutating.PUT("/filters/limit", h.SetLimitFilter)
	mutating.PUT("/filters/intercept", h.SetInterceptFilter)
	mutating.POST("/log/export", h.ExportLog)
	mutating.POST("/log/import", h.ImportLog)
	mutating.POST("/playback/client/load", h.LoadClientPlayback)
}

// ListFlows returns the current filtered view as flow snapshots
// (spec.md §4.2 view).
func (h *Handlers) ListFlows(c echo.Context) error {
	view := h.Master.Store.Snapshot()
	snapshots := make([]map[string]interface{}, len(view))
	for i, f := range view {
		snapshots[i] = f.Snapshot(false)
	}
	return c.JSON(http.StatusOK, snapshots)
}

// GetFlow returns a single flow's snapshot by id.
func (h *Handlers) GetFlow(c echo.Context) error {
	f, err := h.lookupFlow(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f.Snapshot(true))
}

// AcceptFlow calls accept_intercept on the named flow.
func (h *Handlers) AcceptFlow(c echo.Context) error {
	f, err := h.lookupFlow(c)
	if err != nil {
		return err
	}
	if err := f.AcceptIntercept(); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// KillFlow calls kill on the named flow.
func (h *Handlers) KillFlow(c echo.Context) error {
	f, err := h.lookupFlow(c)
	if err != nil {
		return err
	}
	notify := func(fl *flow.Flow, _ *flow.ErrorArtifact) {
		if h.Master.Client != nil {
			h.Master.Client.Clear(fl)
		}
	}
	if err := f.Kill(notify); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// ReplayFlow triggers replay_request on the named flow.
func (h *Handlers) ReplayFlow(c echo.Context) error {
	f, err := h.lookupFlow(c)
	if err != nil {
		return err
	}
	h.Master.ReplayRequest(f)
	return c.NoContent(http.StatusAccepted)
}

type filterRequest struct {
	Expression string `json:"expression"`
}

// SetLimitFilter parses the body's expression and replaces the display
// limit filter, returning the parser's diagnostic on failure
// (spec.md §4.2, §7).
func (h *Handlers) SetLimitFilter(c echo.Context) error {
	var req filterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.Master.Store.SetLimit(filter.Parse, req.Expression); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// SetInterceptFilter parses the body's expression and posts it to the
// dispatcher loop to install as the interception gate. Posting through
// Master.EventQueue rather than mutating Master directly keeps this HTTP
// handler goroutine from racing with Tick (spec.md §5).
func (h *Handlers) SetInterceptFilter(c echo.Context) error {
	var req filterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	pred, err := filter.Parse(req.Expression)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	h.Master.PostInterceptFilter(pred)
	return c.NoContent(http.StatusNoContent)
}

// ExportLog writes every flow in the store's current filtered view to the
// flow log format, streamed in the response body.
func (h *Handlers) ExportLog(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/octet-stream")
	w := flowlog.NewWriter(c.Response())
	for _, f := range h.Master.Store.Snapshot() {
		if err := w.Add(f.Snapshot(false)); err != nil {
			return err
		}
	}
	return nil
}

// ImportLog reads a flow log from the request body and loads it into the
// store via master.LoadFlows.
func (h *Handlers) ImportLog(c echo.Context) error {
	r := flowlog.NewReader(c.Request().Body)
	if err := h.Master.LoadFlows(r); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// LoadClientPlayback reads a flow log from the request body and posts it to
// the dispatcher loop to install as the client playback queue (spec.md
// §4.6). Flows with no response or error are queued for injection. Posting
// through Master.EventQueue rather than mutating Master.Client directly
// keeps this HTTP handler goroutine from racing with Tick (spec.md §5).
func (h *Handlers) LoadClientPlayback(c echo.Context) error {
	r := flowlog.NewReader(c.Request().Body)
	snapshots, err := r.ReadAll()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var flows []*flow.Flow
	for _, snap := range snapshots {
		f := &flow.Flow{}
		f.Restore(snap)
		if f.Response == nil && f.Error == nil {
			flows = append(flows, f)
		}
	}

	h.Master.PostClientPlayback(flows)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) lookupFlow(c echo.Context) (*flow.Flow, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid flow id"})
	}
	f, ok := h.Master.Store.Get(id)
	if !ok {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "flow not found"})
	}
	return f, nil
}
