package restmodel

import (
	"context"
	"time"
)

// ClassView binds a class to a scope. Configuration set through a view is
// visible only to operations made through a view of the same scope; the
// main scope and other scopes keep their own values. Use it to hold
// per-tenant sites or credentials without global mutation.
type ClassView struct {
	class *Class
	scope Scope
}

// InScope returns a view of the class bound to the given scope.
func (c *Class) InScope(scope Scope) *ClassView {
	return &ClassView{class: c, scope: scope}
}

// Class returns the underlying class.
func (v *ClassView) Class() *Class { return v.class }

// Scope returns the bound scope.
func (v *ClassView) Scope() Scope { return v.scope }

// Site returns the site visible in this scope.
func (v *ClassView) Site() string { return v.class.siteIn(v.scope) }

// ElementName returns the element name visible in this scope.
func (v *ClassView) ElementName() string { return v.class.elementNameIn(v.scope) }

// CollectionName returns the collection name visible in this scope.
func (v *ClassView) CollectionName() string { return v.class.collectionNameIn(v.scope) }

// Prefix returns the prefix template visible in this scope.
func (v *ClassView) Prefix() string { return v.class.prefixIn(v.scope) }

// Headers returns the merged headers visible in this scope.
func (v *ClassView) Headers() map[string]string { return v.class.headersIn(v.scope) }

// SetSite sets the site for this scope only.
func (v *ClassView) SetSite(site string) {
	v.class.site.Set(v.scope, site)
	v.class.invalidateConnections()
}

// SetPrefix sets the prefix template for this scope only.
func (v *ClassView) SetPrefix(prefix string) {
	v.class.prefix.Set(v.scope, prefix)
}

// SetUser sets the auth user for this scope only.
func (v *ClassView) SetUser(user string) {
	v.class.user.Set(v.scope, user)
	v.class.invalidateConnections()
}

// SetPassword sets the auth password for this scope only.
func (v *ClassView) SetPassword(password string) {
	v.class.password.Set(v.scope, password)
	v.class.invalidateConnections()
}

// SetBearerToken sets the bearer token for this scope only and selects
// bearer auth in this scope.
func (v *ClassView) SetBearerToken(token string) {
	v.class.bearerToken.Set(v.scope, token)
	v.class.authType.Set(v.scope, AuthBearer)
	v.class.invalidateConnections()
}

// SetAuthType selects the auth type for this scope only.
func (v *ClassView) SetAuthType(auth AuthType) {
	v.class.authType.Set(v.scope, auth)
	v.class.invalidateConnections()
}

// SetHeader sets one default header for this scope only.
func (v *ClassView) SetHeader(key, value string) {
	v.class.setHeaderIn(v.scope, key, value)
}

// SetTimeout bounds the request exchange for this scope only.
func (v *ClassView) SetTimeout(timeout time.Duration) {
	v.class.timeout.Set(v.scope, timeout)
	v.class.invalidateConnections()
}

// New builds an unsaved resource bound to this scope.
func (v *ClassView) New(attrs map[string]any) (*Resource, error) {
	return v.class.newIn(v.scope, attrs)
}

// Find fetches a single resource through this scope's configuration.
func (v *ClassView) Find(ctx context.Context, id any, options Options) (*Resource, error) {
	return v.class.findIn(ctx, v.scope, id, options)
}

// FindAll returns a lazy collection bound to this scope.
func (v *ClassView) FindAll(options Options) *Collection {
	return v.class.findAllIn(v.scope, options, "")
}

// FindFirst materializes the scoped collection and returns its first
// element.
func (v *ClassView) FindFirst(ctx context.Context, options Options) (*Resource, error) {
	return v.FindAll(options).First(ctx)
}

// FindLast materializes the scoped collection and returns its last
// element.
func (v *ClassView) FindLast(ctx context.Context, options Options) (*Resource, error) {
	return v.FindAll(options).Last(ctx)
}
