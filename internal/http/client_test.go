package http_test

import (
	"context"
	"crypto/md5" //nolint:gosec // digest auth is defined over MD5
	"encoding/hex"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	connhttp "github.com/restmodel-io/restmodel/internal/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures structured log calls.
type recordingLogger struct {
	logs []map[string]interface{}
}

func (l *recordingLogger) log(level, msg string, fields map[string]interface{}) {
	l.logs = append(l.logs, map[string]interface{}{"level": level, "msg": msg, "fields": fields})
}

func (l *recordingLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestConnection_Verbs(t *testing.T) {
	t.Parallel()

	t.Run("GET sends Accept header", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			assert.Equal(t, "GET", request.Method)
			assert.Equal(t, "/people/1.json", request.URL.Path)
			assert.Equal(t, "application/json", request.Header.Get("Accept"))
			assert.Empty(t, request.Header.Get("Content-Type"))

			_, _ = writer.Write([]byte(`{"person": {"id": 1}}`))
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL)
		require.NoError(t, err)

		resp, err := conn.Get(context.Background(), "/people/1.json", nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.JSONEq(t, `{"person": {"id": 1}}`, string(resp.Body))
	})

	t.Run("POST sends Content-Type header and body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			assert.Equal(t, "POST", request.Method)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

			writer.WriteHeader(nethttp.StatusCreated)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL)
		require.NoError(t, err)

		resp, err := conn.Post(context.Background(), "/people.json", []byte(`{"person":{}}`), nil)
		require.NoError(t, err)
		assert.Equal(t, 201, resp.StatusCode)
	})

	t.Run("caller headers win", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			assert.Equal(t, "application/xml", request.Header.Get("Accept"))
			assert.Equal(t, "custom-value", request.Header.Get("X-Custom-Header"))
			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL)
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", map[string]string{
			"Accept":          "application/xml",
			"X-Custom-Header": "custom-value",
		})
		require.NoError(t, err)
	})

	t.Run("HEAD and DELETE and PUT and PATCH", func(t *testing.T) {
		t.Parallel()

		var methods []string

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			methods = append(methods, request.Method)
			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL)
		require.NoError(t, err)

		ctx := context.Background()

		_, err = conn.Head(ctx, "/people/1.json", nil)
		require.NoError(t, err)
		_, err = conn.Delete(ctx, "/people/1.json", nil)
		require.NoError(t, err)
		_, err = conn.Put(ctx, "/people/1.json", []byte(`{}`), nil)
		require.NoError(t, err)
		_, err = conn.Patch(ctx, "/people/1.json", []byte(`{}`), nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"HEAD", "DELETE", "PUT", "PATCH"}, methods)
	})
}

//nolint:funlen // exhaustive status table
func TestConnection_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  int
		matches func(error) bool
	}{
		{301, func(err error) bool { target := &connhttp.RedirectionError{}; return errors.As(err, &target) }},
		{302, func(err error) bool { target := &connhttp.RedirectionError{}; return errors.As(err, &target) }},
		{303, func(err error) bool { target := &connhttp.RedirectionError{}; return errors.As(err, &target) }},
		{307, func(err error) bool { target := &connhttp.RedirectionError{}; return errors.As(err, &target) }},
		{400, func(err error) bool { target := &connhttp.BadRequestError{}; return errors.As(err, &target) }},
		{401, func(err error) bool { target := &connhttp.UnauthorizedAccessError{}; return errors.As(err, &target) }},
		{403, func(err error) bool { target := &connhttp.ForbiddenAccessError{}; return errors.As(err, &target) }},
		{404, func(err error) bool { target := &connhttp.ResourceNotFoundError{}; return errors.As(err, &target) }},
		{405, func(err error) bool { target := &connhttp.MethodNotAllowedError{}; return errors.As(err, &target) }},
		{409, func(err error) bool { target := &connhttp.ResourceConflictError{}; return errors.As(err, &target) }},
		{410, func(err error) bool { target := &connhttp.ResourceGoneError{}; return errors.As(err, &target) }},
		{422, func(err error) bool { target := &connhttp.ResourceInvalidError{}; return errors.As(err, &target) }},
		{451, func(err error) bool {
			target := &connhttp.UnavailableForLegalReasonsError{}

			return errors.As(err, &target)
		}},
		{418, func(err error) bool { target := &connhttp.ClientError{}; return errors.As(err, &target) }},
		{500, func(err error) bool { target := &connhttp.ServerError{}; return errors.As(err, &target) }},
		{503, func(err error) bool { target := &connhttp.ServerError{}; return errors.As(err, &target) }},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(nethttp.StatusText(testCase.status), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
				writer.WriteHeader(testCase.status)
			}))
			defer server.Close()

			conn, err := connhttp.NewConnection(server.URL)
			require.NoError(t, err)

			_, err = conn.Get(context.Background(), "/people.json", nil)
			require.Error(t, err)
			assert.True(t, testCase.matches(err), "status %d mapped to %T", testCase.status, err)

			base, ok := connhttp.AsConnectionError(err)
			require.True(t, ok)
			require.NotNil(t, base.Request)
			require.NotNil(t, base.Response)
			assert.Equal(t, testCase.status, base.Response.StatusCode)
		})
	}

	t.Run("2xx passes through", func(t *testing.T) {
		t.Parallel()

		for _, status := range []int{200, 201, 204, 299} {
			server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
				writer.WriteHeader(status)
			}))

			conn, err := connhttp.NewConnection(server.URL)
			require.NoError(t, err)

			resp, err := conn.Get(context.Background(), "/people.json", nil)
			require.NoError(t, err)
			assert.Equal(t, status, resp.StatusCode)

			server.Close()
		}
	})
}

func TestConnection_BasicAndBearerAuth(t *testing.T) {
	t.Parallel()

	t.Run("basic", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			assert.Equal(t, "Basic bWF0ejpzZWNyZXQ=", request.Header.Get("Authorization"))
			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithBasicAuth("matz", "secret"))
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", nil)
		require.NoError(t, err)
	})

	t.Run("bearer", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			assert.Equal(t, "Bearer header-token", request.Header.Get("Authorization"))
			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithBearerToken("header-token"))
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", nil)
		require.NoError(t, err)
	})
}

//nolint:funlen // digest flow needs the full exchange
func TestConnection_DigestRetry(t *testing.T) {
	t.Parallel()

	t.Run("retries exactly once with computed digest", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			attempts++

			auth := request.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Digest ") {
				writer.Header().Set("WWW-Authenticate", `Digest realm="active", qop="auth", nonce="nonce-value", opaque="opaque-value"`)
				writer.WriteHeader(nethttp.StatusUnauthorized)

				return
			}

			assert.Contains(t, auth, `username="david"`)
			assert.Contains(t, auth, `realm="active"`)
			assert.Contains(t, auth, `nonce="nonce-value"`)
			assert.Contains(t, auth, `opaque="opaque-value"`)
			assert.Contains(t, auth, `uri="/people/1.json"`)
			assert.Contains(t, auth, "qop=auth")
			assert.Contains(t, auth, "nc=00000001")

			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithDigestAuth("david", "secret"))
		require.NoError(t, err)

		resp, err := conn.Get(context.Background(), "/people/1.json", nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 2, attempts)
	})

	t.Run("digest covers the full request-URI including query", func(t *testing.T) {
		t.Parallel()

		const requestURI = "/people.json?active=true&page=2"

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			auth := request.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Digest ") {
				writer.Header().Set("WWW-Authenticate", `Digest realm="active", qop="auth", nonce="nonce-value"`)
				writer.WriteHeader(nethttp.StatusUnauthorized)

				return
			}

			params := parseDigestParams(auth)
			assert.Equal(t, requestURI, params["uri"])

			// The response hash must be computed over the same URI the
			// server sees, query string included.
			expected := digestResponse("david", "active", "secret",
				"GET", requestURI, params["nonce"], params["nc"], params["cnonce"])
			assert.Equal(t, expected, params["response"])

			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithDigestAuth("david", "secret"))
		require.NoError(t, err)

		resp, err := conn.Get(context.Background(), requestURI, nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("second 401 surfaces as unauthorized without further retry", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			attempts++
			writer.Header().Set("WWW-Authenticate", `Digest realm="active", qop="auth", nonce="nonce-value"`)
			writer.WriteHeader(nethttp.StatusUnauthorized)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithDigestAuth("david", "wrong"))
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people/1.json", nil)
		require.Error(t, err)

		unauthorized := &connhttp.UnauthorizedAccessError{}
		assert.True(t, errors.As(err, &unauthorized))
		assert.Equal(t, 2, attempts)
	})

	t.Run("401 without challenge propagates unmodified", func(t *testing.T) {
		t.Parallel()

		attempts := 0

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			attempts++
			writer.WriteHeader(nethttp.StatusUnauthorized)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithDigestAuth("david", "secret"))
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people/1.json", nil)
		require.Error(t, err)

		unauthorized := &connhttp.UnauthorizedAccessError{}
		assert.True(t, errors.As(err, &unauthorized))
		assert.Equal(t, 1, attempts)
	})
}

func TestConnection_TransportErrors(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		conn, err := connhttp.NewConnection(server.URL, connhttp.WithTimeout(20*time.Millisecond))
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", nil)
		require.Error(t, err)

		timeout := &connhttp.TimeoutError{}
		require.True(t, errors.As(err, &timeout))
		require.NotNil(t, timeout.Request)
		assert.Equal(t, "/people.json", timeout.Request.Path)
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		// Reserve a port, then close the server so the connect is refused.
		server := httptest.NewServer(nethttp.NotFoundHandler())
		address := server.URL
		server.Close()

		conn, err := connhttp.NewConnection(address)
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", nil)
		require.Error(t, err)

		refused := &connhttp.ConnectionRefusedError{}
		assert.True(t, errors.As(err, &refused))
	})

	t.Run("tls failure", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewTLSServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
			writer.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		// Default roots do not trust the httptest certificate.
		conn, err := connhttp.NewConnection(server.URL)
		require.NoError(t, err)

		_, err = conn.Get(context.Background(), "/people.json", nil)
		require.Error(t, err)

		sslErr := &connhttp.SSLError{}
		assert.True(t, errors.As(err, &sslErr))
	})
}

func TestConnection_RetryConfig(t *testing.T) {
	t.Parallel()

	attempts := 0

	server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
		attempts++
		if attempts < 3 {
			writer.WriteHeader(nethttp.StatusInternalServerError)
		} else {
			writer.WriteHeader(nethttp.StatusOK)
		}
	}))
	defer server.Close()

	conn, err := connhttp.NewConnection(server.URL, connhttp.WithRetryConfig(3, 10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)

	resp, err := conn.Get(context.Background(), "/people.json", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, attempts)
}

func TestConnection_Instrumentation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
		writer.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	var events []*connhttp.RequestEvent

	conn, err := connhttp.NewConnection(server.URL, connhttp.WithEmitter(func(event *connhttp.RequestEvent) {
		events = append(events, event)
	}))
	require.NoError(t, err)

	_, err = conn.Get(context.Background(), "/people.json?active=true", nil)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "GET", events[0].Method)
	assert.Contains(t, events[0].RequestURI, "/people.json?active=true")
	assert.Equal(t, "true", events[0].Params.Get("active"))
	require.NotNil(t, events[0].Result)
	assert.Equal(t, 200, events[0].Result.StatusCode)
	assert.False(t, events[0].Retried)
}

func TestConnection_DebugLogging(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
		writer.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	logger := &recordingLogger{}

	conn, err := connhttp.NewConnection(server.URL, connhttp.WithLogger(logger), connhttp.WithDebug(true))
	require.NoError(t, err)

	_, err = conn.Get(context.Background(), "/people.json", nil)
	require.NoError(t, err)

	require.Len(t, logger.logs, 2)
	assert.Equal(t, "HTTP Request", logger.logs[0]["msg"])
	assert.Equal(t, "HTTP Response", logger.logs[1]["msg"])
}

func TestConnection_RedirectNotFollowed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(writer nethttp.ResponseWriter, request *nethttp.Request) {
		writer.Header().Set("Location", "/people/2.json")
		writer.WriteHeader(nethttp.StatusMovedPermanently)
	}))
	defer server.Close()

	conn, err := connhttp.NewConnection(server.URL)
	require.NoError(t, err)

	_, err = conn.Get(context.Background(), "/people/1.json", nil)
	require.Error(t, err)

	redirect := &connhttp.RedirectionError{}
	require.True(t, errors.As(err, &redirect))
	assert.Contains(t, redirect.Error(), "/people/2.json")
}

var digestParamPattern = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^,\s]*))`)

// parseDigestParams splits a Digest Authorization header into its
// directives, unquoting quoted values.
func parseDigestParams(header string) map[string]string {
	params := make(map[string]string)

	for _, match := range digestParamPattern.FindAllStringSubmatch(strings.TrimPrefix(header, "Digest "), -1) {
		value := match[2]
		if value == "" {
			value = match[3]
		}

		params[match[1]] = value
	}

	return params
}

// digestResponse recomputes the RFC 2617 qop=auth response hash.
func digestResponse(user, realm, password, method, uri, nonce, nc, cnonce string) string {
	md5Hex := func(input string) string {
		sum := md5.Sum([]byte(input)) //nolint:gosec // digest auth is defined over MD5

		return hex.EncodeToString(sum[:])
	}

	ha1 := md5Hex(user + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)

	return md5Hex(strings.Join([]string{ha1, nonce, nc, cnonce, "auth", ha2}, ":"))
}
