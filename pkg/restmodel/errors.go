package restmodel

import (
	"errors"
	"fmt"
	"strings"

	connhttp "github.com/restmodel-io/restmodel/internal/http"
	"github.com/restmodel-io/restmodel/internal/pathutil"
)

// Connection-error family, re-exported from the connection layer. All carry
// the originating Request and, when one was received, the Response.
type (
	// ConnectionError is the common base of the family.
	ConnectionError = connhttp.ConnectionError
	// RedirectionError covers 301, 302, 303 and 307 responses.
	RedirectionError = connhttp.RedirectionError
	// BadRequestError covers 400 responses.
	BadRequestError = connhttp.BadRequestError
	// UnauthorizedAccessError covers 401 responses.
	UnauthorizedAccessError = connhttp.UnauthorizedAccessError
	// ForbiddenAccessError covers 403 responses.
	ForbiddenAccessError = connhttp.ForbiddenAccessError
	// ResourceNotFoundError covers 404 responses.
	ResourceNotFoundError = connhttp.ResourceNotFoundError
	// MethodNotAllowedError covers 405 responses.
	MethodNotAllowedError = connhttp.MethodNotAllowedError
	// ResourceConflictError covers 409 responses.
	ResourceConflictError = connhttp.ResourceConflictError
	// ResourceGoneError covers 410 responses.
	ResourceGoneError = connhttp.ResourceGoneError
	// ResourceInvalidError covers 422 responses; its body feeds the
	// validation pipeline.
	ResourceInvalidError = connhttp.ResourceInvalidError
	// UnavailableForLegalReasonsError covers 451 responses.
	UnavailableForLegalReasonsError = connhttp.UnavailableForLegalReasonsError
	// ClientError covers any other 4xx response.
	ClientError = connhttp.ClientError
	// ServerError covers 5xx responses.
	ServerError = connhttp.ServerError
	// TimeoutError wraps transport timeouts.
	TimeoutError = connhttp.TimeoutError
	// SSLError wraps TLS failures.
	SSLError = connhttp.SSLError
	// ConnectionRefusedError wraps refused connections.
	ConnectionRefusedError = connhttp.ConnectionRefusedError

	// MissingPrefixParamError reports a prefix placeholder without a value,
	// raised before any network call.
	MissingPrefixParamError = pathutil.MissingPrefixParamError

	// Request and Response are the connection-layer request/response shapes
	// carried by connection errors and instrumentation events.
	Request  = connhttp.Request
	Response = connhttp.Response
)

// Static errors.
var (
	ErrInvalidAttributes  = errors.New("attributes must be a map")
	ErrNotPersisted       = errors.New("resource is not persisted")
	ErrUnknownAssociation = errors.New("unknown association")
)

// InvalidResourceError is returned by MustSave when validation fails. It
// wraps the failing resource so callers can inspect its Errors collection.
type InvalidResourceError struct {
	Resource *Resource
}

// Error implements the error interface.
func (e *InvalidResourceError) Error() string {
	messages := e.Resource.Errors().FullMessages()
	if len(messages) == 0 {
		return "resource invalid"
	}

	return fmt.Sprintf("resource invalid: %s", strings.Join(messages, ", "))
}

// AsConnectionError reports whether err belongs to the connection-error
// family and returns the embedded base for diagnostics.
func AsConnectionError(err error) (*ConnectionError, bool) {
	return connhttp.AsConnectionError(err)
}

// IsNotFound checks for a 404 response error.
func IsNotFound(err error) bool {
	target := &ResourceNotFoundError{}

	return errors.As(err, &target)
}

// IsUnauthorized checks for a 401 response error.
func IsUnauthorized(err error) bool {
	target := &UnauthorizedAccessError{}

	return errors.As(err, &target)
}

// IsForbidden checks for a 403 response error.
func IsForbidden(err error) bool {
	target := &ForbiddenAccessError{}

	return errors.As(err, &target)
}

// IsInvalid checks for a 422 response error.
func IsInvalid(err error) bool {
	target := &ResourceInvalidError{}

	return errors.As(err, &target)
}

// IsRedirection checks for a redirect response error.
func IsRedirection(err error) bool {
	target := &RedirectionError{}

	return errors.As(err, &target)
}

// IsTimeout checks for a transport timeout.
func IsTimeout(err error) bool {
	target := &TimeoutError{}

	return errors.As(err, &target)
}

// IsServerError checks for a 5xx response error.
func IsServerError(err error) bool {
	target := &ServerError{}

	return errors.As(err, &target)
}

// IsMissingPrefixParam checks for a missing prefix placeholder value.
func IsMissingPrefixParam(err error) bool {
	target := &MissingPrefixParamError{}

	return errors.As(err, &target)
}
