// Package http wraps the HTTP transport for remote resource classes. It
// assembles auth and format headers, maps response statuses onto the typed
// error taxonomy, performs the single digest-auth challenge retry, and emits
// one instrumentation event per request.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/restmodel-io/restmodel/internal/authutil"
)

// AuthType selects how the Authorization header is built.
type AuthType string

// Supported auth types.
const (
	AuthBasic  AuthType = "basic"
	AuthDigest AuthType = "digest"
	AuthBearer AuthType = "bearer"
)

// DefaultMimeType is used when no format is configured.
const DefaultMimeType = "application/json"

// Request describes a dispatched HTTP request, kept on errors and events for
// diagnostics.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is the transport-neutral response shape the status mapping
// expects: a numeric code, a message, a body, and header lookup.
type Response struct {
	StatusCode int
	Message    string
	Headers    nethttp.Header
	Body       []byte
}

// Header returns the named response header, or "".
func (r *Response) Header(name string) string {
	if r.Headers == nil {
		return ""
	}

	return r.Headers.Get(name)
}

// Logger is the minimal structured logging surface the connection needs.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// RequestEvent is emitted once per request, after any digest retry has been
// resolved. Params are a best-effort parse of the path's query string.
type RequestEvent struct {
	Method     string
	RequestURI string
	Params     url.Values
	Result     *Response
	Err        error
	Duration   time.Duration
	Retried    bool
}

// Emitter consumes request events. The connection emits; it never depends on
// what consumes the event.
type Emitter func(*RequestEvent)

// RetryConfig enables transient-failure retries via go-retryablehttp. Off by
// default: the only built-in retry is the digest challenge response.
type RetryConfig struct {
	Max     int
	WaitMin time.Duration
	WaitMax time.Duration
}

// Connection performs HTTP requests on behalf of one resource class.
type Connection struct {
	site        *url.URL
	proxy       *url.URL
	user        string
	password    string
	bearerToken string
	authType    AuthType

	timeout     time.Duration
	openTimeout time.Duration
	readTimeout time.Duration
	tlsConfig   *tls.Config

	mime      string
	userAgent string

	logger Logger
	debug  bool
	emit   Emitter

	transport nethttp.RoundTripper
	retry     *RetryConfig

	clientOnce sync.Once
	httpClient *nethttp.Client

	digestMu   sync.Mutex
	challenge  *authutil.Challenge
	nonceCount int
}

// Option configures a Connection.
type Option func(*Connection)

// WithProxy routes requests through the given proxy.
func WithProxy(proxy *url.URL) Option {
	return func(c *Connection) { c.proxy = proxy }
}

// WithTimeout bounds the whole request/response exchange.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Connection) { c.timeout = timeout }
}

// WithOpenTimeout bounds connection establishment.
func WithOpenTimeout(timeout time.Duration) Option {
	return func(c *Connection) { c.openTimeout = timeout }
}

// WithReadTimeout bounds the wait for response headers.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Connection) { c.readTimeout = timeout }
}

// WithTLSConfig applies SSL options to the transport.
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Connection) { c.tlsConfig = config }
}

// WithBasicAuth sends a basic Authorization header.
func WithBasicAuth(user, password string) Option {
	return func(c *Connection) {
		c.user = user
		c.password = password
		c.authType = AuthBasic
	}
}

// WithDigestAuth enables the digest challenge/response flow.
func WithDigestAuth(user, password string) Option {
	return func(c *Connection) {
		c.user = user
		c.password = password
		c.authType = AuthDigest
	}
}

// WithBearerToken sends a bearer Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Connection) {
		c.bearerToken = token
		c.authType = AuthBearer
	}
}

// WithMimeType sets the format mime type used for Accept/Content-Type.
func WithMimeType(mime string) Option {
	return func(c *Connection) { c.mime = mime }
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// WithDebug enables request/response debug logging.
func WithDebug(debug bool) Option {
	return func(c *Connection) { c.debug = debug }
}

// WithEmitter installs the instrumentation event consumer.
func WithEmitter(emit Emitter) Option {
	return func(c *Connection) { c.emit = emit }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Connection) { c.userAgent = userAgent }
}

// WithTransport replaces the underlying round tripper. Used by tests and the
// mock transport registry.
func WithTransport(transport nethttp.RoundTripper) Option {
	return func(c *Connection) { c.transport = transport }
}

// WithRetryConfig enables opt-in retries for transient failures (5xx, 429,
// connection errors) with bounded backoff.
func WithRetryConfig(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Connection) {
		c.retry = &RetryConfig{Max: max, WaitMin: waitMin, WaitMax: waitMax}
	}
}

// NewConnection creates a connection for the given site.
func NewConnection(site string, opts ...Option) (*Connection, error) {
	siteURL, err := url.Parse(site)
	if err != nil {
		return nil, fmt.Errorf("parsing site URL: %w", err)
	}

	conn := &Connection{
		site: siteURL,
		mime: DefaultMimeType,
	}

	for _, opt := range opts {
		opt(conn)
	}

	return conn, nil
}

// Site returns the connection's base URI.
func (c *Connection) Site() *url.URL {
	return c.site
}

// Get issues a GET request.
func (c *Connection) Get(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodGet, path, nil, headers)
}

// Delete issues a DELETE request.
func (c *Connection) Delete(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodDelete, path, nil, headers)
}

// Head issues a HEAD request.
func (c *Connection) Head(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodHead, path, nil, headers)
}

// Post issues a POST request with an encoded body.
func (c *Connection) Post(ctx context.Context, path string, body []byte, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodPost, path, body, headers)
}

// Put issues a PUT request with an encoded body.
func (c *Connection) Put(ctx context.Context, path string, body []byte, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodPut, path, body, headers)
}

// Patch issues a PATCH request with an encoded body.
func (c *Connection) Patch(ctx context.Context, path string, body []byte, headers map[string]string) (*Response, error) {
	return c.request(ctx, nethttp.MethodPatch, path, body, headers)
}

func (c *Connection) request(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Response, error) {
	req := &Request{
		Method:  method,
		Path:    path,
		Headers: c.buildHeaders(method, path, headers),
		Body:    body,
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": method,
			"path":   path,
		})
	}

	start := time.Now()
	resp, retried, err := c.dispatchWithAuth(ctx, req)

	c.emitEvent(req, resp, err, time.Since(start), retried)

	if c.debug && c.logger != nil {
		fields := map[string]interface{}{
			"method": method,
			"path":   path,
		}
		if resp != nil {
			fields["status_code"] = resp.StatusCode
		}

		if err != nil {
			fields["error"] = err.Error()
			c.logger.Error("HTTP Response", fields)
		} else {
			c.logger.Debug("HTTP Response", fields)
		}
	}

	return resp, err
}

// dispatchWithAuth is the two-attempt digest state machine: attempt, and on
// a first 401 with digest auth configured, capture the challenge and retry
// exactly once. A second 401 maps to UnauthorizedAccessError as usual.
func (c *Connection) dispatchWithAuth(ctx context.Context, req *Request) (*Response, bool, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, false, err
	}

	if resp.StatusCode == nethttp.StatusUnauthorized && c.authType == AuthDigest {
		if captured := c.captureChallenge(resp); captured {
			req.Headers["Authorization"] = c.digestAuthorization(req.Method, req.Path)

			retryResp, retryErr := c.send(ctx, req)
			if retryErr != nil {
				return nil, true, retryErr
			}

			return retryResp, true, errorForStatus(req, retryResp)
		}
	}

	return resp, false, errorForStatus(req, resp)
}

func (c *Connection) send(ctx context.Context, req *Request) (*Response, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("parsing request path: %w", err)
	}

	target := c.site.ResolveReference(ref)

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, c.wrapTransportError(req, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.wrapTransportError(req, err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Message:    statusMessage(httpResp),
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// buildHeaders assembles the outgoing header map: the fixed method-to-format
// header, auth, user agent, then caller-supplied headers (caller wins).
func (c *Connection) buildHeaders(method, path string, headers map[string]string) map[string]string {
	built := make(map[string]string, len(headers)+3)

	switch method {
	case nethttp.MethodGet, nethttp.MethodHead, nethttp.MethodDelete:
		built["Accept"] = c.mime
	case nethttp.MethodPost, nethttp.MethodPut, nethttp.MethodPatch:
		built["Content-Type"] = c.mime
	}

	if c.userAgent != "" {
		built["User-Agent"] = c.userAgent
	}

	if auth := c.authorizationHeader(method, path); auth != "" {
		built["Authorization"] = auth
	}

	for key, value := range headers {
		built[key] = value
	}

	return built
}

func (c *Connection) authorizationHeader(method, path string) string {
	switch c.authType {
	case AuthBasic:
		if c.user == "" && c.password == "" {
			return ""
		}

		return authutil.Basic(c.user, c.password)
	case AuthBearer:
		if c.bearerToken == "" {
			return ""
		}

		return authutil.Bearer(c.bearerToken)
	case AuthDigest:
		// Without a captured challenge the first attempt goes out bare.
		return c.digestAuthorization(method, path)
	default:
		return ""
	}
}

func (c *Connection) digestAuthorization(method, path string) string {
	c.digestMu.Lock()
	defer c.digestMu.Unlock()

	if c.challenge == nil {
		return ""
	}

	c.nonceCount++

	cnonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	// digest-uri is the full Request-URI, query string included
	// (RFC 2617 §3.2.2).
	return c.challenge.Authorize(method, path, c.user, c.password, c.nonceCount, cnonce)
}

// captureChallenge parses and stores the digest challenge from a 401
// response. Returns false when the header is absent or not a usable digest
// challenge, in which case the 401 propagates unmodified.
func (c *Connection) captureChallenge(resp *Response) bool {
	header := resp.Header("WWW-Authenticate")
	if header == "" {
		return false
	}

	challenge, err := authutil.ParseChallenge(header)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("unusable digest challenge", map[string]interface{}{
				"error": err.Error(),
			})
		}

		return false
	}

	c.digestMu.Lock()
	c.challenge = challenge
	c.nonceCount = 0
	c.digestMu.Unlock()

	return true
}

func (c *Connection) wrapTransportError(req *Request, err error) error {
	base := ConnectionError{Request: req, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		base.Message = "request timed out"

		return &TimeoutError{ConnectionError: base}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		base.Message = "connection refused"

		return &ConnectionRefusedError{ConnectionError: base}
	}

	if isTLSError(err) {
		base.Message = "TLS handshake failed"

		return &SSLError{ConnectionError: base}
	}

	base.Message = "request failed"

	return &ConnectionError{Request: req, Err: err, Message: base.Message}
}

func isTLSError(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		verifyErr    *tls.CertificateVerificationError
		hostnameErr  x509.HostnameError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
	)

	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &invalidErr)
}

func (c *Connection) emitEvent(req *Request, resp *Response, err error, duration time.Duration, retried bool) {
	if c.emit == nil {
		return
	}

	params, parseErr := url.ParseQuery(queryOnly(req.Path))
	if parseErr != nil {
		params = nil
	}

	requestURI := req.Path
	if ref, refErr := url.Parse(req.Path); refErr == nil {
		requestURI = c.site.ResolveReference(ref).String()
	}

	c.emit(&RequestEvent{
		Method:     req.Method,
		RequestURI: requestURI,
		Params:     params,
		Result:     resp,
		Err:        err,
		Duration:   duration,
		Retried:    retried,
	})
}

func (c *Connection) client() *nethttp.Client {
	c.clientOnce.Do(func() {
		transport := c.transport
		if transport == nil {
			dialer := &net.Dialer{}
			if c.openTimeout > 0 {
				dialer.Timeout = c.openTimeout
			}

			httpTransport := &nethttp.Transport{
				DialContext:     dialer.DialContext,
				TLSClientConfig: c.tlsConfig,
			}
			if c.proxy != nil {
				httpTransport.Proxy = nethttp.ProxyURL(c.proxy)
			}

			if c.readTimeout > 0 {
				httpTransport.ResponseHeaderTimeout = c.readTimeout
			}

			transport = httpTransport
		}

		if c.retry != nil {
			retryClient := retryablehttp.NewClient()
			retryClient.RetryMax = c.retry.Max
			retryClient.RetryWaitMin = c.retry.WaitMin
			retryClient.RetryWaitMax = c.retry.WaitMax
			retryClient.Logger = nil
			retryClient.HTTPClient = &nethttp.Client{
				Transport:     transport,
				CheckRedirect: noFollowRedirects,
			}

			standard := retryClient.StandardClient()
			standard.Timeout = c.timeout
			standard.CheckRedirect = noFollowRedirects
			c.httpClient = standard

			return
		}

		c.httpClient = &nethttp.Client{
			Transport:     transport,
			Timeout:       c.timeout,
			CheckRedirect: noFollowRedirects,
		}
	})

	return c.httpClient
}

// Redirects surface as RedirectionError instead of being followed.
func noFollowRedirects(*nethttp.Request, []*nethttp.Request) error {
	return nethttp.ErrUseLastResponse
}

func statusMessage(resp *nethttp.Response) string {
	message := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if message == "" {
		message = nethttp.StatusText(resp.StatusCode)
	}

	return message
}

func queryOnly(path string) string {
	if idx := strings.Index(path, "?"); idx >= 0 {
		return path[idx+1:]
	}

	return ""
}
