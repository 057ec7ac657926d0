package http

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionError is the common family for every transport and HTTP status
// failure. All concrete error types embed it, carrying the originating
// request and (when one was received) the response.
type ConnectionError struct {
	Request  *Request
	Response *Response
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Response != nil {
		parts = append(parts, fmt.Sprintf("response code = %d, response message = %s", e.Response.StatusCode, e.Response.Message))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if len(parts) == 0 {
		return "connection failed"
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause, if any.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// base marks membership in the connection-error family.
func (e *ConnectionError) base() *ConnectionError {
	return e
}

type connectionFamily interface {
	base() *ConnectionError
}

// AsConnectionError reports whether err belongs to the connection-error
// family and returns the embedded base for request/response diagnostics.
func AsConnectionError(err error) (*ConnectionError, bool) {
	var family connectionFamily
	if errors.As(err, &family) {
		return family.base(), true
	}

	return nil, false
}

// RedirectionError is returned for 301, 302, 303 and 307 responses.
type RedirectionError struct {
	ConnectionError
}

// Error implements the error interface, including the redirect target.
func (e *RedirectionError) Error() string {
	if e.Response != nil {
		if location := e.Response.Header("Location"); location != "" {
			return fmt.Sprintf("redirection: response code = %d, location = %s", e.Response.StatusCode, location)
		}
	}

	return e.ConnectionError.Error()
}

// BadRequestError is returned for 400 responses.
type BadRequestError struct {
	ConnectionError
}

// UnauthorizedAccessError is returned for 401 responses, including a second
// 401 after the single digest-auth retry.
type UnauthorizedAccessError struct {
	ConnectionError
}

// ForbiddenAccessError is returned for 403 responses.
type ForbiddenAccessError struct {
	ConnectionError
}

// ResourceNotFoundError is returned for 404 responses.
type ResourceNotFoundError struct {
	ConnectionError
}

// MethodNotAllowedError is returned for 405 responses.
type MethodNotAllowedError struct {
	ConnectionError
}

// AllowedMethods returns the verbs advertised by the response Allow header.
func (e *MethodNotAllowedError) AllowedMethods() []string {
	if e.Response == nil {
		return nil
	}

	allow := e.Response.Header("Allow")
	if allow == "" {
		return nil
	}

	methods := strings.Split(allow, ",")
	for i, method := range methods {
		methods[i] = strings.ToUpper(strings.TrimSpace(method))
	}

	return methods
}

// ResourceConflictError is returned for 409 responses.
type ResourceConflictError struct {
	ConnectionError
}

// ResourceGoneError is returned for 410 responses.
type ResourceGoneError struct {
	ConnectionError
}

// ResourceInvalidError is returned for 422 responses. The response body
// carries remote validation errors and is parsed by the validation pipeline.
type ResourceInvalidError struct {
	ConnectionError
}

// UnavailableForLegalReasonsError is returned for 451 responses.
type UnavailableForLegalReasonsError struct {
	ConnectionError
}

// ClientError is returned for any 4xx response without a dedicated type.
type ClientError struct {
	ConnectionError
}

// ServerError is returned for 5xx responses.
type ServerError struct {
	ConnectionError
}

// TimeoutError wraps a transport-level timeout.
type TimeoutError struct {
	ConnectionError
}

// SSLError wraps a TLS handshake or certificate verification failure.
type SSLError struct {
	ConnectionError
}

// ConnectionRefusedError wraps a refused TCP connection.
type ConnectionRefusedError struct {
	ConnectionError
}

// errorForStatus maps a response status code to a typed error, or nil for
// success. Redirects are checked first, then the 2xx-3xx pass-through, then
// specific codes, then the 4xx/5xx ranges.
func errorForStatus(req *Request, resp *Response) error {
	base := ConnectionError{Request: req, Response: resp}

	switch resp.StatusCode {
	case 301, 302, 303, 307:
		return &RedirectionError{ConnectionError: base}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}

	switch resp.StatusCode {
	case 400:
		return &BadRequestError{ConnectionError: base}
	case 401:
		return &UnauthorizedAccessError{ConnectionError: base}
	case 403:
		return &ForbiddenAccessError{ConnectionError: base}
	case 404:
		return &ResourceNotFoundError{ConnectionError: base}
	case 405:
		return &MethodNotAllowedError{ConnectionError: base}
	case 409:
		return &ResourceConflictError{ConnectionError: base}
	case 410:
		return &ResourceGoneError{ConnectionError: base}
	case 422:
		return &ResourceInvalidError{ConnectionError: base}
	case 451:
		return &UnavailableForLegalReasonsError{ConnectionError: base}
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{ConnectionError: base}
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		return &ServerError{ConnectionError: base}
	default:
		return &ConnectionError{Request: req, Response: resp, Message: "unexpected response code"}
	}
}
