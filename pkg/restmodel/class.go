package restmodel

import (
	"crypto/tls"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobuffalo/flect"

	connhttp "github.com/restmodel-io/restmodel/internal/http"
	"github.com/restmodel-io/restmodel/internal/pathutil"
)

// AuthType selects how the Authorization header is built.
type AuthType = connhttp.AuthType

// Supported auth types.
const (
	AuthBasic  = connhttp.AuthBasic
	AuthDigest = connhttp.AuthDigest
	AuthBearer = connhttp.AuthBearer
)

// Options carries request options: keys matching the class's prefix
// placeholders become prefix parameters, everything else query parameters.
type Options map[string]any

// Static errors.
var (
	ErrSiteNotConfigured = errors.New("class has no site configured")
)

// Class describes one remote resource collection: naming, URL layout, wire
// format, credentials, schema, and declared associations. Configuration not
// set on a class falls back to its parent until explicitly overridden.
type Class struct {
	name   string
	parent *Class
	owner  *Class // enclosing class, for auto-vivified nested classes

	elementName    *scopedValue[string]
	collectionName *scopedValue[string]
	primaryKey     *scopedValue[string]
	prefix         *scopedValue[string]
	site           *scopedValue[string]
	proxy          *scopedValue[string]
	user           *scopedValue[string]
	password       *scopedValue[string]
	bearerToken    *scopedValue[string]
	authType       *scopedValue[AuthType]
	timeout        *scopedValue[time.Duration]
	openTimeout    *scopedValue[time.Duration]
	readTimeout    *scopedValue[time.Duration]
	sslConfig      *scopedValue[*tls.Config]
	headers        *scopedValue[map[string]string]
	format         *scopedValue[Format]
	includeFormat  *scopedValue[bool]

	mu                  sync.RWMutex
	schema              map[string]AttrType
	schemaOrder         []string
	validators          []Validator
	reflections         map[string]*Reflection
	nested              map[string]*Class
	rescues             []rescueEntry
	remoteErrorMatchers []func(error) bool
	subscribers         []func(*RequestEvent)
	transport           nethttp.RoundTripper
	logger              Logger
	debug               bool

	gen    atomic.Uint64
	connMu sync.Mutex
	conns  map[Scope]*connEntry
}

type connEntry struct {
	gen  uint64
	conn *connhttp.Connection
}

type rescueEntry struct {
	matches func(error) bool
	handler func(error) error
}

// ClassOption configures a Class at construction time.
type ClassOption func(*Class)

// WithSite sets the base site URI.
func WithSite(site string) ClassOption {
	return func(c *Class) { c.site.Set(MainScope, site) }
}

// WithPrefix sets the URL prefix template, e.g. "/people/:person_id/".
func WithPrefix(prefix string) ClassOption {
	return func(c *Class) { c.prefix.Set(MainScope, prefix) }
}

// WithElementName overrides the derived element name.
func WithElementName(name string) ClassOption {
	return func(c *Class) { c.elementName.Set(MainScope, name) }
}

// WithCollectionName overrides the derived collection name.
func WithCollectionName(name string) ClassOption {
	return func(c *Class) { c.collectionName.Set(MainScope, name) }
}

// WithPrimaryKey overrides the default "id" primary key.
func WithPrimaryKey(key string) ClassOption {
	return func(c *Class) { c.primaryKey.Set(MainScope, key) }
}

// WithFormat selects the wire format (default JSON).
func WithFormat(format Format) ClassOption {
	return func(c *Class) { c.format.Set(MainScope, format) }
}

// NewClass creates and registers a resource class. The name is the
// CamelCase singular, e.g. "Person"; element and collection names derive
// from it unless overridden.
func NewClass(name string, opts ...ClassOption) *Class {
	class := newBareClass(name)

	for _, opt := range opts {
		opt(class)
	}

	registerClass(class)

	return class
}

func newBareClass(name string) *Class {
	return &Class{
		name:           name,
		elementName:    newScopedValue[string](nil),
		collectionName: newScopedValue[string](nil),
		primaryKey:     newScopedValue[string](nil),
		prefix:         newScopedValue[string](nil),
		site:           newScopedValue[string](nil),
		proxy:          newScopedValue[string](nil),
		user:           newScopedValue[string](nil),
		password:       newScopedValue[string](nil),
		bearerToken:    newScopedValue[string](nil),
		authType:       newScopedValue[AuthType](nil),
		timeout:        newScopedValue[time.Duration](nil),
		openTimeout:    newScopedValue[time.Duration](nil),
		readTimeout:    newScopedValue[time.Duration](nil),
		sslConfig:      newScopedValue[*tls.Config](nil),
		headers:        newScopedValue[map[string]string](cloneStringMap),
		format:         newScopedValue[Format](nil),
		includeFormat:  newScopedValue[bool](nil),
		schema:         make(map[string]AttrType),
		reflections:    make(map[string]*Reflection),
		nested:         make(map[string]*Class),
		conns:          make(map[Scope]*connEntry),
	}
}

// Derive creates a subclass: every setting falls back to the parent until
// the child sets its own, at which point the child's connection is rebuilt
// independently.
func (c *Class) Derive(name string, opts ...ClassOption) *Class {
	child := newBareClass(name)
	child.parent = c

	for _, opt := range opts {
		opt(child)
	}

	registerClass(child)

	return child
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// resolveScoped walks the parent chain until a class has the value set.
func resolveScoped[T any](c *Class, scope Scope, pick func(*Class) *scopedValue[T]) (T, bool) {
	for class := c; class != nil; class = class.parent {
		if value, ok := pick(class).Get(scope); ok {
			return value, true
		}
	}

	var zero T

	return zero, false
}

func (c *Class) elementNameIn(scope Scope) string {
	if name, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.elementName }); ok {
		return name
	}

	return flect.Underscore(c.name)
}

func (c *Class) collectionNameIn(scope Scope) string {
	if name, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.collectionName }); ok {
		return name
	}

	return flect.Pluralize(c.elementNameIn(scope))
}

func (c *Class) primaryKeyIn(scope Scope) string {
	if key, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.primaryKey }); ok {
		return key
	}

	return "id"
}

func (c *Class) prefixIn(scope Scope) string {
	if prefix, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.prefix }); ok {
		return prefix
	}

	return "/"
}

func (c *Class) siteIn(scope Scope) string {
	if site, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.site }); ok {
		return site
	}

	return ""
}

func (c *Class) formatIn(scope Scope) Format {
	if format, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[Format] { return k.format }); ok && format != nil {
		return format
	}

	return JSON
}

func (c *Class) authTypeIn(scope Scope) AuthType {
	if auth, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[AuthType] { return k.authType }); ok {
		return auth
	}

	return AuthBasic
}

func (c *Class) includeFormatIn(scope Scope) bool {
	if include, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[bool] { return k.includeFormat }); ok {
		return include
	}

	return true
}

func (c *Class) headersIn(scope Scope) map[string]string {
	merged := make(map[string]string)

	// Parent headers apply first so children override per key.
	var chain []*Class
	for class := c; class != nil; class = class.parent {
		chain = append(chain, class)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if headers, ok := chain[i].headers.Get(scope); ok {
			for key, value := range headers {
				merged[key] = value
			}
		}
	}

	return merged
}

func (c *Class) prefixTemplateIn(scope Scope) *pathutil.Template {
	return templateFor(c.prefixIn(scope))
}

func (c *Class) extensionIn(scope Scope) string {
	if !c.includeFormatIn(scope) {
		return ""
	}

	return c.formatIn(scope).Extension()
}

// Public accessors and setters operate on the main scope; use InScope for
// isolated configuration.

// ElementName returns the singular element name, derived from the class
// name unless set.
func (c *Class) ElementName() string { return c.elementNameIn(MainScope) }

// CollectionName returns the plural collection name.
func (c *Class) CollectionName() string { return c.collectionNameIn(MainScope) }

// PrimaryKey returns the primary key attribute name.
func (c *Class) PrimaryKey() string { return c.primaryKeyIn(MainScope) }

// Prefix returns the URL prefix template.
func (c *Class) Prefix() string { return c.prefixIn(MainScope) }

// PrefixParams returns the placeholder names parsed from the prefix.
func (c *Class) PrefixParams() []string {
	return templateFor(c.Prefix()).Params()
}

// Site returns the configured site URI.
func (c *Class) Site() string { return c.siteIn(MainScope) }

// Format returns the active wire format.
func (c *Class) Format() Format { return c.formatIn(MainScope) }

// Headers returns the merged header map.
func (c *Class) Headers() map[string]string { return c.headersIn(MainScope) }

// SetElementName overrides the derived element name.
func (c *Class) SetElementName(name string) { c.elementName.Set(MainScope, name) }

// SetCollectionName overrides the derived collection name.
func (c *Class) SetCollectionName(name string) { c.collectionName.Set(MainScope, name) }

// SetPrimaryKey overrides the default primary key.
func (c *Class) SetPrimaryKey(key string) { c.primaryKey.Set(MainScope, key) }

// SetPrefix sets the URL prefix template.
func (c *Class) SetPrefix(prefix string) { c.prefix.Set(MainScope, prefix) }

// SetSite sets the base site URI and invalidates the connection.
func (c *Class) SetSite(site string) { c.site.Set(MainScope, site); c.invalidateConnections() }

// SetProxy routes requests through a proxy URI.
func (c *Class) SetProxy(proxy string) { c.proxy.Set(MainScope, proxy); c.invalidateConnections() }

// SetUser sets the auth user name.
func (c *Class) SetUser(user string) { c.user.Set(MainScope, user); c.invalidateConnections() }

// SetPassword sets the auth password.
func (c *Class) SetPassword(password string) {
	c.password.Set(MainScope, password)
	c.invalidateConnections()
}

// SetBearerToken sets the bearer token and selects bearer auth.
func (c *Class) SetBearerToken(token string) {
	c.bearerToken.Set(MainScope, token)
	c.authType.Set(MainScope, AuthBearer)
	c.invalidateConnections()
}

// SetAuthType selects basic, digest, or bearer auth.
func (c *Class) SetAuthType(auth AuthType) {
	c.authType.Set(MainScope, auth)
	c.invalidateConnections()
}

// SetTimeout bounds the whole request/response exchange.
func (c *Class) SetTimeout(timeout time.Duration) {
	c.timeout.Set(MainScope, timeout)
	c.invalidateConnections()
}

// SetOpenTimeout bounds connection establishment.
func (c *Class) SetOpenTimeout(timeout time.Duration) {
	c.openTimeout.Set(MainScope, timeout)
	c.invalidateConnections()
}

// SetReadTimeout bounds the wait for response headers.
func (c *Class) SetReadTimeout(timeout time.Duration) {
	c.readTimeout.Set(MainScope, timeout)
	c.invalidateConnections()
}

// SetSSLConfig applies TLS options.
func (c *Class) SetSSLConfig(config *tls.Config) {
	c.sslConfig.Set(MainScope, config)
	c.invalidateConnections()
}

// SetFormat selects the wire format and invalidates the connection.
func (c *Class) SetFormat(format Format) {
	c.format.Set(MainScope, format)
	c.invalidateConnections()
}

// SetIncludeFormatInPath controls whether paths carry the format extension.
func (c *Class) SetIncludeFormatInPath(include bool) { c.includeFormat.Set(MainScope, include) }

// SetHeader sets one default request header.
func (c *Class) SetHeader(key, value string) {
	c.setHeaderIn(MainScope, key, value)
}

// SetTransport replaces the underlying round tripper; used with the
// restmodeltest registry.
func (c *Class) SetTransport(transport nethttp.RoundTripper) {
	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()
	c.invalidateConnections()
}

// SetLogger installs a structured logger for the connection layer.
func (c *Class) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
	c.invalidateConnections()
}

// SetDebug enables request/response debug logging.
func (c *Class) SetDebug(debug bool) {
	c.mu.Lock()
	c.debug = debug
	c.mu.Unlock()
	c.invalidateConnections()
}

// Subscribe registers an instrumentation event subscriber.
func (c *Class) Subscribe(subscriber func(*RequestEvent)) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, subscriber)
	c.mu.Unlock()
}

// RescueFrom installs a declarative recovery handler consulted around
// save/destroy/reload operations. A handler returning nil suppresses the
// error.
func (c *Class) RescueFrom(matches func(error) bool, handler func(error) error) {
	c.mu.Lock()
	c.rescues = append(c.rescues, rescueEntry{matches: matches, handler: handler})
	c.mu.Unlock()
}

// AddRemoteErrorMatcher extends the set of errors whose response bodies are
// parsed as remote validation errors (default: 422 ResourceInvalidError).
func (c *Class) AddRemoteErrorMatcher(matches func(error) bool) {
	c.mu.Lock()
	c.remoteErrorMatchers = append(c.remoteErrorMatchers, matches)
	c.mu.Unlock()
}

func (c *Class) setHeaderIn(scope Scope, key, value string) {
	current, _ := c.headers.Get(scope)
	updated := cloneStringMap(current)

	if updated == nil {
		updated = make(map[string]string)
	}

	updated[key] = value
	c.headers.Set(scope, updated)
}

func (c *Class) invalidateConnections() {
	c.gen.Add(1)
}

func (c *Class) transportChain() nethttp.RoundTripper {
	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		transport := class.transport
		class.mu.RUnlock()

		if transport != nil {
			return transport
		}
	}

	return nil
}

func (c *Class) loggerChain() (Logger, bool) {
	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		logger, debug := class.logger, class.debug
		class.mu.RUnlock()

		if logger != nil {
			return logger, debug
		}
	}

	return nil, false
}

func (c *Class) notify(event *RequestEvent) {
	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		subscribers := make([]func(*RequestEvent), len(class.subscribers))
		copy(subscribers, class.subscribers)
		class.mu.RUnlock()

		for _, subscriber := range subscribers {
			subscriber(event)
		}
	}
}

func (c *Class) applyRescues(err error) error {
	if err == nil {
		return nil
	}

	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		rescues := make([]rescueEntry, len(class.rescues))
		copy(rescues, class.rescues)
		class.mu.RUnlock()

		for _, rescue := range rescues {
			if rescue.matches(err) {
				return rescue.handler(err)
			}
		}
	}

	return err
}

func (c *Class) isRemoteError(err error) bool {
	if IsInvalid(err) {
		return true
	}

	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		matchers := make([]func(error) bool, len(class.remoteErrorMatchers))
		copy(matchers, class.remoteErrorMatchers)
		class.mu.RUnlock()

		for _, matches := range matchers {
			if matches(err) {
				return true
			}
		}
	}

	return false
}

// connection returns the class connection for a scope, rebuilding it when
// identity-affecting configuration has changed since it was built. Stale
// references held by callers stay usable; they just no longer reflect new
// configuration.
func (c *Class) connection(scope Scope) (*connhttp.Connection, error) {
	gen := c.gen.Load()

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if entry, ok := c.conns[scope]; ok && entry.gen == gen {
		return entry.conn, nil
	}

	conn, err := c.buildConnection(scope)
	if err != nil {
		return nil, err
	}

	c.conns[scope] = &connEntry{gen: gen, conn: conn}

	return conn, nil
}

func (c *Class) buildConnection(scope Scope) (*connhttp.Connection, error) {
	site := c.siteIn(scope)
	if site == "" {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotConfigured, c.name)
	}

	opts := []connhttp.Option{
		connhttp.WithMimeType(c.formatIn(scope).MimeType()),
		connhttp.WithEmitter(c.notify),
	}

	user, _ := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.user })
	password, _ := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.password })
	bearer, _ := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.bearerToken })

	switch c.authTypeIn(scope) {
	case AuthDigest:
		opts = append(opts, connhttp.WithDigestAuth(user, password))
	case AuthBearer:
		opts = append(opts, connhttp.WithBearerToken(bearer))
	case AuthBasic:
		if user != "" || password != "" {
			opts = append(opts, connhttp.WithBasicAuth(user, password))
		}
	}

	if proxy, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[string] { return k.proxy }); ok && proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}

		opts = append(opts, connhttp.WithProxy(proxyURL))
	}

	if timeout, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[time.Duration] { return k.timeout }); ok {
		opts = append(opts, connhttp.WithTimeout(timeout))
	}

	if timeout, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[time.Duration] { return k.openTimeout }); ok {
		opts = append(opts, connhttp.WithOpenTimeout(timeout))
	}

	if timeout, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[time.Duration] { return k.readTimeout }); ok {
		opts = append(opts, connhttp.WithReadTimeout(timeout))
	}

	if ssl, ok := resolveScoped(c, scope, func(k *Class) *scopedValue[*tls.Config] { return k.sslConfig }); ok && ssl != nil {
		opts = append(opts, connhttp.WithTLSConfig(ssl))
	}

	if transport := c.transportChain(); transport != nil {
		opts = append(opts, connhttp.WithTransport(transport))
	}

	if logger, debug := c.loggerChain(); logger != nil {
		opts = append(opts, connhttp.WithLogger(loggerAdapter{logger}), connhttp.WithDebug(debug))
	}

	conn, err := connhttp.NewConnection(site, opts...)
	if err != nil {
		return nil, fmt.Errorf("building connection: %w", err)
	}

	return conn, nil
}

// loggerAdapter adapts restmodel.Logger to the connection layer's Logger.
type loggerAdapter struct {
	logger Logger
}

func (l loggerAdapter) Debug(msg string, fields map[string]interface{}) { l.logger.Debug(msg, fields) }
func (l loggerAdapter) Info(msg string, fields map[string]interface{})  { l.logger.Info(msg, fields) }
func (l loggerAdapter) Warn(msg string, fields map[string]interface{})  { l.logger.Warn(msg, fields) }
func (l loggerAdapter) Error(msg string, fields map[string]interface{}) { l.logger.Error(msg, fields) }

// Template cache: prefix templates parse once per distinct raw string.
var (
	templateMu    sync.Mutex
	templateCache = map[string]*pathutil.Template{}
)

func templateFor(raw string) *pathutil.Template {
	templateMu.Lock()
	defer templateMu.Unlock()

	if template, ok := templateCache[raw]; ok {
		return template
	}

	template := pathutil.ParseTemplate(raw)
	templateCache[raw] = template

	return template
}

// Global class registry, consulted by the association loader.
var (
	registryMu    sync.RWMutex
	classRegistry = map[string]*Class{}
)

func registerClass(class *Class) {
	registryMu.Lock()
	defer registryMu.Unlock()

	classRegistry[class.name] = class
}

// LookupClass finds a registered top-level class by name.
func LookupClass(name string) (*Class, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	class, ok := classRegistry[name]

	return class, ok
}
