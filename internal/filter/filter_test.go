package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxycore/internal/flow"
)

func newFlow(host, method, path string, status int) *flow.Flow {
	req := &flow.Request{Host: host, Port: 80, Scheme: "http", Method: method, Path: path}
	f := flow.NewFlow(req)
	if status != 0 {
		f.Response = &flow.Response{Status: status, Request: req}
	}
	return f
}

func TestParse_EmptyMatchesEverything(t *testing.T) {
	pred, err := Parse("")
	require.NoError(t, err)
	assert.True(t, pred.Evaluate(newFlow("a.com", "GET", "/", 0)))
}

func TestParse_HostSubstring(t *testing.T) {
	pred, err := Parse("~h example.com")
	require.NoError(t, err)
	assert.True(t, pred.Evaluate(newFlow("www.example.com", "GET", "/", 0)))
	assert.False(t, pred.Evaluate(newFlow("other.org", "GET", "/", 0)))
}

func TestParse_MethodAndPath(t *testing.T) {
	pred, err := Parse("~m POST & ~u /api")
	require.NoError(t, err)
	assert.True(t, pred.Evaluate(newFlow("a.com", "POST", "/api/x", 0)))
	assert.False(t, pred.Evaluate(newFlow("a.com", "GET", "/api/x", 0)))
	assert.False(t, pred.Evaluate(newFlow("a.com", "POST", "/other", 0)))
}

func TestParse_NotAndOr(t *testing.T) {
	pred, err := Parse("!(~c 200) | ~h special.com")
	require.NoError(t, err)
	assert.True(t, pred.Evaluate(newFlow("a.com", "GET", "/", 404)))
	assert.False(t, pred.Evaluate(newFlow("a.com", "GET", "/", 200)))
	assert.True(t, pred.Evaluate(newFlow("special.com", "GET", "/", 200)))
}

func TestParse_StatusCode(t *testing.T) {
	pred, err := Parse("~c 404")
	require.NoError(t, err)
	assert.True(t, pred.Evaluate(newFlow("a.com", "GET", "/", 404)))
	assert.False(t, pred.Evaluate(newFlow("a.com", "GET", "/", 200)))
}

func TestParse_InvalidExpressionReturnsError(t *testing.T) {
	_, err := Parse("~bogus")
	assert.Error(t, err)
}

func TestParse_UnbalancedParenthesesReturnsError(t *testing.T) {
	_, err := Parse("(~h a.com")
	assert.Error(t, err)
}
