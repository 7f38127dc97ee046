// Package sticky implements the sticky-cookie and sticky-authorization
// policies: filter-gated hooks that capture session state from responses
// and re-inject it into matching later requests (spec.md §4.3, §4.4).
package sticky

import (
	"net/http"
	"strings"

	"proxycore/internal/flow"
	"proxycore/internal/logging"
)

var log = logging.New("sticky")

// cookieKey is the sticky cookie jar's map key: (domain, port, path).
type cookieKey struct {
	domain string
	port   int
	path   string
}

// CookieJar captures Set-Cookie attributes from matching responses and
// injects the serialized cookie into later matching requests
// (spec.md §3, §4.3).
type CookieJar struct {
	filter  flow.Predicate
	entries map[cookieKey]*http.Cookie
}

// NewCookieJar constructs a jar gated by filter. A nil filter matches every
// flow on OnRequest (OnResponse is unconditional per spec.md §4.3).
func NewCookieJar(filter flow.Predicate) *CookieJar {
	return &CookieJar{filter: filter, entries: make(map[cookieKey]*http.Cookie)}
}

// OnResponse parses every Set-Cookie header of f.Response and stores each
// cookie under (domain, port, path), keyed from the cookie's own attributes
// with the request as fallback. Cookies that fail domain-match against the
// response's originating host are dropped.
//
// A single Set-Cookie value may encode multiple cookies; only the first
// attribute block returned by http.ParseSetCookie is kept, preserving the
// observed upstream behavior spec.md §4.3/§9 document as a deliberate quirk.
func (j *CookieJar) OnResponse(f *flow.Flow) {
	if f.Response == nil || f.Request == nil {
		return
	}

	for _, raw := range f.Response.Headers.Values("Set-Cookie") {
		cookie, err := http.ParseSetCookie(raw)
		if err != nil || cookie == nil {
			log.WithField("value", raw).Debug("sticky cookie: unparseable Set-Cookie header")
			continue
		}

		domain := cookie.Domain
		if domain == "" {
			domain = f.Request.Host
		}
		if !domainMatch(f.Request.Host, domain) {
			continue
		}

		path := cookie.Path
		if path == "" {
			path = "/"
		}

		key := cookieKey{domain: domain, port: f.Request.Port, path: path}
		j.entries[key] = cookie
	}
}

// OnRequest appends the serialized cookie of every jar entry whose key
// domain-matches, port-matches, and path-prefixes f.Request, and sets the
// request's StickyCookie marker if anything was injected. Only applies
// when f matches the jar's filter.
func (j *CookieJar) OnRequest(f *flow.Flow) {
	if f.Request == nil || !f.Match(j.filter) {
		return
	}

	for key, cookie := range j.entries {
		if !domainMatch(f.Request.Host, key.domain) {
			continue
		}
		if key.port != f.Request.Port {
			continue
		}
		if !strings.HasPrefix(f.Request.Path, key.path) {
			continue
		}
		f.Request.Headers.Add("Cookie", cookie.String())
		f.Request.StickyCookie = true
	}
}

// domainMatch implements RFC 6265-style domain matching: exact match, or
// cookieDomain is a dot-boundary suffix of host.
func domainMatch(host, cookieDomain string) bool {
	host = strings.ToLower(host)
	cookieDomain = strings.ToLower(strings.TrimPrefix(cookieDomain, "."))

	if host == cookieDomain {
		return true
	}
	return strings.HasSuffix(host, "."+cookieDomain)
}

// AuthMemory records the most recently observed Authorization header per
// host and re-injects it into later filter-matching requests that lack one
// (spec.md §4.4).
type AuthMemory struct {
	filter flow.Predicate
	byHost map[string]string
}

// NewAuthMemory constructs an auth memory gated by filter.
func NewAuthMemory(filter flow.Predicate) *AuthMemory {
	return &AuthMemory{filter: filter, byHost: make(map[string]string)}
}

// OnRequest records f.Request's Authorization header for its host,
// overwriting any prior value. If the request has no Authorization header,
// it is injected from memory when f matches the configured filter and a
// prior value exists for the host.
func (a *AuthMemory) OnRequest(f *flow.Flow) {
	if f.Request == nil {
		return
	}

	if auth := f.Request.Headers.Get("Authorization"); auth != "" {
		a.byHost[f.Request.Host] = auth
		return
	}

	if !f.Match(a.filter) {
		return
	}
	if auth, ok := a.byHost[f.Request.Host]; ok {
		f.Request.Headers.Set("Authorization", auth)
	}
}
