// Package restmodeltest provides a stub http.RoundTripper for testing code
// built on restmodel without a live server. Register responses per
// method/path pair and install the registry as the class transport.
package restmodeltest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

// Registry is a thread-safe http.RoundTripper serving canned responses.
// Unmatched requests fail with an error describing the request and every
// registered stub.
type Registry struct {
	mu       sync.Mutex
	stubs    []*Stub
	requests []*http.Request
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Stub is one registered method/path expectation and its response.
type Stub struct {
	registry *Registry

	method      string
	path        string
	headers     map[string]string
	ignoreQuery bool

	status      int
	body        []byte
	respHeaders map[string]string
	handler     func(*http.Request) (*http.Response, error)

	mu    sync.Mutex
	calls int
}

// On registers a stub for a method and path. The path is matched against
// the request's path and query; use IgnoreQuery to match the path alone.
func (r *Registry) On(method, path string) *Stub {
	stub := &Stub{
		registry: r,
		method:   strings.ToUpper(method),
		path:     path,
	}

	r.mu.Lock()
	r.stubs = append(r.stubs, stub)
	r.mu.Unlock()

	return stub
}

// Requests returns every request the registry has seen, matched or not.
func (r *Registry) Requests() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	requests := make([]*http.Request, len(r.requests))
	copy(requests, r.requests)

	return requests
}

// RoundTrip implements http.RoundTripper.
func (r *Registry) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	stubs := make([]*Stub, len(r.stubs))
	copy(stubs, r.stubs)
	r.mu.Unlock()

	for _, stub := range stubs {
		if stub.matches(req) {
			return stub.respond(req)
		}
	}

	return nil, fmt.Errorf("no stub for %s %s\nregistered stubs:\n%s",
		req.Method, req.URL.RequestURI(), r.describeStubs(stubs))
}

func (r *Registry) describeStubs(stubs []*Stub) string {
	described := make([]string, 0, len(stubs))
	for _, stub := range stubs {
		entry := map[string]any{
			"method":       stub.method,
			"path":         stub.path,
			"ignore_query": stub.ignoreQuery,
		}

		if len(stub.headers) > 0 {
			entry["headers"] = stub.headers
		}

		switch {
		case stub.handler != nil:
			entry["response"] = "dynamic handler"
		default:
			status := stub.status
			if status == 0 {
				status = http.StatusOK
			}

			entry["response_status"] = status
			entry["response_body"] = summarizeBody(stub.body)

			if len(stub.respHeaders) > 0 {
				entry["response_headers"] = stub.respHeaders
			}
		}

		described = append(described, spew.Sdump(entry))
	}

	if len(described) == 0 {
		return "(none)"
	}

	return strings.Join(described, "")
}

// summarizeBody keeps the dump readable for large canned bodies.
func summarizeBody(body []byte) string {
	const limit = 120

	if len(body) == 0 {
		return "(empty)"
	}

	if len(body) > limit {
		return string(body[:limit]) + "..."
	}

	return string(body)
}

// WithHeader requires a request header to match.
func (s *Stub) WithHeader(key, value string) *Stub {
	if s.headers == nil {
		s.headers = make(map[string]string)
	}

	s.headers[key] = value

	return s
}

// IgnoreQuery matches the request path regardless of its query string.
func (s *Stub) IgnoreQuery() *Stub {
	s.ignoreQuery = true

	return s
}

// Respond sets the canned response.
func (s *Stub) Respond(status int, body []byte, headers map[string]string) *Stub {
	s.status = status
	s.body = body
	s.respHeaders = headers

	return s
}

// RespondWith sets a dynamic response handler.
func (s *Stub) RespondWith(handler func(*http.Request) (*http.Response, error)) *Stub {
	s.handler = handler

	return s
}

// Calls returns how many requests the stub has served.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func (s *Stub) matches(req *http.Request) bool {
	if req.Method != s.method {
		return false
	}

	if s.ignoreQuery {
		want := s.path
		if i := strings.IndexByte(want, '?'); i >= 0 {
			want = want[:i]
		}

		if req.URL.Path != want {
			return false
		}
	} else if req.URL.RequestURI() != s.path && req.URL.Path != s.path {
		return false
	}

	for key, value := range s.headers {
		if req.Header.Get(key) != value {
			return false
		}
	}

	return true
}

func (s *Stub) respond(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.handler != nil {
		return s.handler(req)
	}

	header := make(http.Header)
	for key, value := range s.respHeaders {
		header.Set(key, value)
	}

	status := s.status
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}, nil
}
