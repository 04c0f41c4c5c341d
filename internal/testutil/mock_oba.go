// Package testutil provides mock upstream servers for transit-proxy tests.
package testutil

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const (
	// AgenciesPath is the OBA agencies-with-coverage endpoint.
	AgenciesPath = "/api/where/agencies-with-coverage.json"

	// RoutesPathPrefix prefixes the OBA routes-for-agency endpoint.
	RoutesPathPrefix = "/api/where/routes-for-agency/"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAgency is an agency served by MockOBA.
type MockAgency struct {
	ID      string
	Name    string
	Lat     float64
	Lon     float64
	LatSpan float64
	LonSpan float64
}

// MockRoute is a route served by MockOBA.
type MockRoute struct {
	ID        string
	ShortName string
	LongName  string
	Type      int
	Color     string
}

// MockOBA is a configurable OneBusAway server for testing.
type MockOBA struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	agencies []MockAgency
	routes   map[string][]MockRoute
	paths    map[string]int

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	LastAPIKey        string
}

// NewMockOBA creates a new mock OBA server.
func NewMockOBA() *MockOBA {
	mock := &MockOBA{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		routes:   make(map[string][]MockRoute),
		paths:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.paths[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastAPIKey = r.URL.Query().Get("key")
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockOBA) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOBA) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockOBA) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.paths = make(map[string]int)
}

// AddAgency registers an agency and its routes.
func (m *MockOBA) AddAgency(agency MockAgency, routes ...MockRoute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agencies = append(m.agencies, agency)
	m.routes[agency.ID] = append(m.routes[agency.ID], routes...)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOBA) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler removes a custom handler, restoring the default behavior.
func (m *MockOBA) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a fixed response for a path.
func (m *MockOBA) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.handler())
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockOBA) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockOBA) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequest returns the headers and API key of the latest request.
func (m *MockOBA) GetLastRequest() (http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader, m.LastAPIKey
}

// PathCount returns how often a path was requested.
func (m *MockOBA) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths[path]
}

// RoutesPath returns the routes-for-agency path of an agency.
func RoutesPath(agencyID string) string {
	return RoutesPathPrefix + agencyID + ".json"
}

func (m *MockOBA) defaultHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case r.URL.Path == AgenciesPath:
		list := make([]map[string]any, 0, len(m.agencies))
		refs := make([]map[string]any, 0, len(m.agencies))
		for _, a := range m.agencies {
			list = append(list, map[string]any{
				"agencyId": a.ID,
				"lat":      a.Lat,
				"lon":      a.Lon,
				"latSpan":  a.LatSpan,
				"lonSpan":  a.LonSpan,
			})
			refs = append(refs, agencyReference(a))
		}
		writeEnvelope(w, r, list, refs)

	case strings.HasPrefix(r.URL.Path, RoutesPathPrefix):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, RoutesPathPrefix), ".json")
		var agency *MockAgency
		for i := range m.agencies {
			if m.agencies[i].ID == id {
				agency = &m.agencies[i]
			}
		}
		if agency == nil {
			WriteOBAError(w, http.StatusNotFound, "resource not found")
			return
		}

		list := make([]map[string]any, 0, len(m.routes[id]))
		for _, route := range m.routes[id] {
			list = append(list, map[string]any{
				"id":        route.ID,
				"agencyId":  id,
				"shortName": route.ShortName,
				"longName":  route.LongName,
				"type":      route.Type,
				"color":     route.Color,
			})
		}
		writeEnvelope(w, r, list, []map[string]any{agencyReference(*agency)})

	default:
		http.NotFound(w, r)
	}
}

func agencyReference(a MockAgency) map[string]any {
	return map[string]any{
		"id":       a.ID,
		"name":     a.Name,
		"url":      "https://example.com/" + a.ID,
		"timezone": "America/Los_Angeles",
		"lang":     "en",
	}
}

// writeEnvelope writes an OBA list envelope with an ETag derived from the
// payload, answering 304 when the client already holds it.
func writeEnvelope(w http.ResponseWriter, r *http.Request, list, refs any) {
	body, err := json.Marshal(map[string]any{
		"code":        http.StatusOK,
		"currentTime": 1714564800000,
		"text":        "OK",
		"version":     2,
		"data": map[string]any{
			"limitExceeded": false,
			"list":          list,
			"references": map[string]any{
				"agencies": refs,
			},
		},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%x"`, sha1.Sum(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// WriteOBAError writes an OBA error envelope. OBA reports most failures with
// HTTP 200 and the real status in the code field.
func WriteOBAError(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"code":%d,"currentTime":1714564800000,"text":%q,"version":2}`, code, text)
}

func (resp MockResponse) handler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"code":429,"text":"rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"code":500,"text":"internal error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
