// Package testutil provides test doubles and seeded stores for admindash tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPDoer implements ingest.HTTPDoer for testing.
// Responses are queued per method and URL; the last queued response repeats.
type MockHTTPDoer struct {
	responses map[string][]mockResponse
	calls     []HTTPCall
	mu        sync.Mutex
}

type mockResponse struct {
	err    error
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{responses: make(map[string][]mockResponse)}
}

// Do records the request and replays the next configured response.
// Unconfigured requests get a 404.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{Method: req.Method, URL: req.URL.String(), Body: body})

	key := req.Method + ":" + req.URL.String()
	queue := m.responses[key]
	if len(queue) == 0 {
		return response(http.StatusNotFound, []byte(`{"error":"not found"}`)), nil
	}
	next := queue[0]
	if len(queue) > 1 {
		m.responses[key] = queue[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	return response(next.status, next.body), nil
}

// AddResponse queues a JSON response for method and url.
func (m *MockHTTPDoer) AddResponse(method, url string, status int, body any) {
	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + ":" + url
	m.responses[key] = append(m.responses[key], mockResponse{status: status, body: raw})
}

// AddError queues a transport error for method and url.
func (m *MockHTTPDoer) AddError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + ":" + url
	m.responses[key] = append(m.responses[key], mockResponse{err: err})
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HTTPCall(nil), m.calls...)
}

func response(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(string(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}
