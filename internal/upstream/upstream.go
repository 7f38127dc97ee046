// Package upstream implements master.Upstream: the live HTTP round trip
// replay_request falls back to once sticky policies and server playback
// both decline to resolve a flow synchronously (spec.md §4.7, §9).
package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"proxycore/internal/flow"
)

// Client performs the round trip over net/http, converting between
// flow.Request/flow.Response and the stdlib's own types at the boundary.
type Client struct {
	http *http.Client
}

// New constructs a Client with a bounded per-request timeout, so a
// replay_request worker can never block Master.ReplayRequest's caller
// indefinitely on an unreachable or hanging upstream.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Send implements master.Upstream.
func (c *Client) Send(req *flow.Request) (*flow.Response, error) {
	url := fmt.Sprintf("%s://%s:%d%s", req.Scheme, req.Host, req.Port, req.Path)

	httpReq, err := http.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for _, field := range req.Headers {
		for _, v := range field.Values {
			httpReq.Header.Add(field.Name, v)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream round trip: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	resp := &flow.Response{Status: httpResp.StatusCode, Request: req, Body: body}
	for name, values := range httpResp.Header {
		for _, v := range values {
			resp.Headers.Add(name, v)
		}
	}
	return resp, nil
}
