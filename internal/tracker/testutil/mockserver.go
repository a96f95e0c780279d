// Package testutil provides fakes for tracker tests: an in-memory tracker
// for engine and dedup tests, and a recording HTTP server for adapter tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// MockTrackerServer is an httptest server with per-route handlers and
// request recording.
type MockTrackerServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests []RecordedRequest
	routes   map[string]http.HandlerFunc // "METHOD /path" -> handler

	authError   bool
	serverError bool
}

// NewMockTrackerServer creates and starts a mock server.
func NewMockTrackerServer() *MockTrackerServer {
	m := &MockTrackerServer{routes: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func (m *MockTrackerServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	authError, serverError := m.authError, m.serverError
	handler, found := m.routes[r.Method+" "+r.URL.Path]
	m.mu.Unlock()

	if authError {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	if serverError {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if !found {
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	handler(w, r)
}

// URL returns the mock server URL.
func (m *MockTrackerServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockTrackerServer) Close() {
	m.Server.Close()
}

// Handle registers a handler for a method and exact path.
func (m *MockTrackerServer) Handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = h
}

// Respond registers a fixed JSON response for a method and path.
func (m *MockTrackerServer) Respond(method, path string, status int, body interface{}) {
	m.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, status, body)
	})
}

// SetAuthError enables/disables 401 Unauthorized responses.
func (m *MockTrackerServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetServerError enables/disables 500 Internal Server Error responses.
func (m *MockTrackerServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// GetRequests returns all recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestsTo returns the recorded requests for a method and path.
func (m *MockTrackerServer) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.GetRequests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
