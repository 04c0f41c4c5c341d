package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockOTP is an OpenTripPlanner root endpoint that answers every request with
// a fixed response.
type MockOTP struct {
	server *httptest.Server

	mu           sync.RWMutex
	resp         MockResponse
	requestCount int
}

// NewMockOTP creates a mock OTP server answering with resp.
func NewMockOTP(resp MockResponse) *MockOTP {
	mock := &MockOTP{resp: resp}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		resp := mock.resp
		mock.mu.Unlock()

		resp.handler()(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockOTP) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOTP) Close() {
	m.server.Close()
}

// SetResponse replaces the response.
func (m *MockOTP) SetResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockOTP) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// NewOTPVersionResponse creates a 200 JSON response with the given body.
func NewOTPVersionResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
