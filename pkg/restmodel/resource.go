package restmodel

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"strconv"
	"strings"
)

// Resource is one remote object: a class, an ordered attribute set, the
// prefix parameters that place it in the URL tree, and a persisted flag
// deciding whether Save issues a create or an update.
type Resource struct {
	class         *Class
	scope         Scope
	attrs         *Attrs
	prefixOptions map[string]any
	persisted     bool
	errors        *Errors
	remoteErrors  *Errors
}

// New builds an unsaved resource from an attribute map. Nested maps and
// slices of maps become nested resources per the class's associations.
func (c *Class) New(attrs map[string]any) (*Resource, error) {
	return c.newIn(MainScope, attrs)
}

func (c *Class) newIn(scope Scope, attrs map[string]any) (*Resource, error) {
	resource := &Resource{
		class:         c,
		scope:         scope,
		attrs:         NewAttrs(),
		prefixOptions: make(map[string]any),
		errors:        NewErrors(),
	}

	if attrs != nil {
		if err := Load(resource, attrs, false, false); err != nil {
			return nil, err
		}
	}

	return resource, nil
}

// Class returns the resource's class.
func (r *Resource) Class() *Class {
	return r.class
}

// Attributes returns the live attribute set.
func (r *Resource) Attributes() *Attrs {
	return r.attrs
}

// PrefixOptions returns a copy of the prefix parameters.
func (r *Resource) PrefixOptions() map[string]any {
	copied := make(map[string]any, len(r.prefixOptions))
	for key, value := range r.prefixOptions {
		copied[key] = value
	}

	return copied
}

// SetPrefixOption sets one prefix parameter.
func (r *Resource) SetPrefixOption(key string, value any) {
	r.prefixOptions[key] = value
}

// Persisted reports whether the resource exists on the server.
func (r *Resource) Persisted() bool {
	return r.persisted
}

// IsNew reports whether the resource has not been saved yet.
func (r *Resource) IsNew() bool {
	return !r.persisted
}

// Errors returns the validation error collection.
func (r *Resource) Errors() *Errors {
	if r.errors == nil {
		r.errors = NewErrors()
	}

	return r.errors
}

// ID returns the primary key value, or nil.
func (r *Resource) ID() any {
	value, _ := r.attrs.Get(r.class.primaryKeyIn(r.scope))

	return value
}

// SetID sets the primary key value.
func (r *Resource) SetID(id any) {
	r.attrs.Set(r.class.primaryKeyIn(r.scope), id)
}

// Get returns an attribute value. Attributes declared in the class schema
// but absent read as their type's zero value.
func (r *Resource) Get(name string) (any, bool) {
	if value, ok := r.attrs.Get(name); ok {
		return value, true
	}

	if attrType, known := r.class.Schema()[name]; known {
		return zeroFor(attrType), true
	}

	return nil, false
}

// GetString returns the attribute as a string, or "" when absent or nil.
func (r *Resource) GetString(name string) string {
	value, ok := r.Get(name)
	if !ok || value == nil {
		return ""
	}

	if str, isString := value.(string); isString {
		return str
	}

	return fmt.Sprint(value)
}

// GetInt returns the attribute as an int64, converting numeric and string
// forms; 0 when absent or unconvertible.
func (r *Resource) GetInt(name string) int64 {
	value, ok := r.Get(name)
	if !ok {
		return 0
	}

	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case string:
		parsed, err := strconv.ParseInt(typed, 10, 64)
		if err != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}

// GetFloat returns the attribute as a float64.
func (r *Resource) GetFloat(name string) float64 {
	value, ok := r.Get(name)
	if !ok {
		return 0
	}

	switch typed := value.(type) {
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case float64:
		return typed
	case string:
		parsed, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}

// GetBool returns the attribute as a bool; string forms parse per
// strconv.ParseBool.
func (r *Resource) GetBool(name string) bool {
	value, ok := r.Get(name)
	if !ok {
		return false
	}

	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(typed)
		if err != nil {
			return false
		}

		return parsed
	default:
		return false
	}
}

// GetResource returns a nested resource attribute.
func (r *Resource) GetResource(name string) (*Resource, bool) {
	value, ok := r.attrs.Get(name)
	if !ok {
		return nil, false
	}

	nested, isResource := value.(*Resource)

	return nested, isResource
}

// GetResources returns a nested resource collection attribute.
func (r *Resource) GetResources(name string) ([]*Resource, bool) {
	value, ok := r.attrs.Get(name)
	if !ok {
		return nil, false
	}

	nested, isSlice := value.([]*Resource)

	return nested, isSlice
}

// Association returns the loaded value of a declared association: a
// *Resource for has-one/belongs-to, a []*Resource for has-many, or nil when
// the payload carried nothing for it.
func (r *Resource) Association(name string) (any, error) {
	if _, ok := r.class.reflectionFor(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssociation, name)
	}

	value, _ := r.attrs.Get(name)

	return value, nil
}

// Set stores an attribute. Maps and slices of maps are converted to nested
// resources the same way loaded attributes are.
func (r *Resource) Set(name string, value any) error {
	coerced, err := coerceAttrValue(r.class, r.scope, name, value)
	if err != nil {
		return err
	}

	r.attrs.Set(name, coerced)

	return nil
}

// Has reports whether the attribute is present (schema attributes count).
func (r *Resource) Has(name string) bool {
	if r.attrs.Has(name) {
		return true
	}

	_, known := r.class.Schema()[name]

	return known
}

// Valid runs the class validators, refilling the error collection, and
// re-merges any remote errors captured from the last failed save.
func (r *Resource) Valid() bool {
	r.Errors().Clear()

	for _, validator := range r.class.validatorChain() {
		validator(r)
	}

	if r.remoteErrors != nil {
		r.remoteErrors.Each(func(attr, message string) {
			r.errors.Add(attr, message)
		})
	}

	return r.errors.IsEmpty()
}

// Save creates or updates the resource. It returns (false, nil) when local
// validation or the server's validation rejects the resource, with Errors
// populated; transport and protocol failures return the error.
func (r *Resource) Save(ctx context.Context) (bool, error) {
	// Each attempt starts fresh; remote errors from the previous attempt
	// stay visible only until the next one.
	r.remoteErrors = nil

	if !r.Valid() {
		return false, nil
	}

	var err error
	if r.persisted {
		err = r.update(ctx)
	} else {
		err = r.create(ctx)
	}

	if err == nil {
		return true, nil
	}

	if r.class.isRemoteError(err) {
		r.captureRemoteErrors(err)

		return false, nil
	}

	return false, r.class.applyRescues(err)
}

// MustSave is Save returning *InvalidResourceError when the resource was
// rejected by validation.
func (r *Resource) MustSave(ctx context.Context) error {
	saved, err := r.Save(ctx)
	if err != nil {
		return err
	}

	if !saved {
		return &InvalidResourceError{Resource: r}
	}

	return nil
}

func (r *Resource) create(ctx context.Context) error {
	class := r.class

	collectionPath, err := class.prefixTemplateIn(r.scope).CollectionPath(
		class.collectionNameIn(r.scope), class.extensionIn(r.scope), r.prefixOptions, nil)
	if err != nil {
		return err
	}

	body, err := r.Encode()
	if err != nil {
		return err
	}

	conn, err := class.connection(r.scope)
	if err != nil {
		return err
	}

	response, err := conn.Post(ctx, collectionPath, body, class.headersIn(r.scope))
	if err != nil {
		return err
	}

	r.persisted = true

	if err := r.loadResponse(response.Body); err != nil {
		return err
	}

	if r.ID() == nil {
		if id := idFromLocation(response.Header("Location")); id != "" {
			r.SetID(id)
		}
	}

	return nil
}

func (r *Resource) update(ctx context.Context) error {
	class := r.class

	elementPath, err := class.prefixTemplateIn(r.scope).ElementPath(
		class.collectionNameIn(r.scope), r.ID(), class.extensionIn(r.scope), r.prefixOptions, nil)
	if err != nil {
		return err
	}

	body, err := r.Encode()
	if err != nil {
		return err
	}

	conn, err := class.connection(r.scope)
	if err != nil {
		return err
	}

	response, err := conn.Put(ctx, elementPath, body, class.headersIn(r.scope))
	if err != nil {
		return err
	}

	return r.loadResponse(response.Body)
}

// Destroy deletes the resource on the server.
func (r *Resource) Destroy(ctx context.Context) error {
	if !r.persisted {
		return ErrNotPersisted
	}

	class := r.class

	elementPath, err := class.prefixTemplateIn(r.scope).ElementPath(
		class.collectionNameIn(r.scope), r.ID(), class.extensionIn(r.scope), r.prefixOptions, nil)
	if err != nil {
		return err
	}

	conn, err := class.connection(r.scope)
	if err != nil {
		return err
	}

	if _, err := conn.Delete(ctx, elementPath, class.headersIn(r.scope)); err != nil {
		return class.applyRescues(err)
	}

	r.persisted = false

	return nil
}

// Reload refetches the resource, replacing its attributes.
func (r *Resource) Reload(ctx context.Context) error {
	if !r.persisted {
		return ErrNotPersisted
	}

	options := make(Options, len(r.prefixOptions))
	for key, value := range r.prefixOptions {
		options[key] = value
	}

	fresh, err := r.class.findIn(ctx, r.scope, r.ID(), options)
	if err != nil {
		return r.class.applyRescues(err)
	}

	r.attrs = fresh.attrs
	r.prefixOptions = fresh.prefixOptions
	r.remoteErrors = nil

	return nil
}

// UpdateAttribute sets one attribute and saves.
func (r *Resource) UpdateAttribute(ctx context.Context, name string, value any) (bool, error) {
	if err := r.Set(name, value); err != nil {
		return false, err
	}

	return r.Save(ctx)
}

// UpdateAttributes sets several attributes and saves.
func (r *Resource) UpdateAttributes(ctx context.Context, attrs map[string]any) (bool, error) {
	for _, key := range sortedAnyKeys(attrs) {
		if err := r.Set(key, attrs[key]); err != nil {
			return false, err
		}
	}

	return r.Save(ctx)
}

// Encode serializes the resource in its class format, wrapped in the
// element name root.
func (r *Resource) Encode() ([]byte, error) {
	return r.class.formatIn(r.scope).Encode(map[string]any{
		r.class.elementNameIn(r.scope): r.attrs.Map(),
	})
}

// Dup returns an unsaved copy: same attributes and prefix options, primary
// key cleared.
func (r *Resource) Dup() *Resource {
	copied := &Resource{
		class:         r.class,
		scope:         r.scope,
		attrs:         r.attrs.Dup(),
		prefixOptions: r.PrefixOptions(),
		errors:        NewErrors(),
	}

	copied.attrs.Delete(r.class.primaryKeyIn(r.scope))

	return copied
}

// Equal reports whether two resources are the same class, persistence
// state, attributes, and prefix options.
func (r *Resource) Equal(other *Resource) bool {
	if other == nil {
		return false
	}

	if r.class.name != other.class.name || r.persisted != other.persisted {
		return false
	}

	return reflect.DeepEqual(r.attrs.Map(), other.attrs.Map()) &&
		reflect.DeepEqual(r.prefixOptions, other.prefixOptions)
}

// String renders a short diagnostic form.
func (r *Resource) String() string {
	return fmt.Sprintf("#<%s id=%v persisted=%t>", r.class.name, r.ID(), r.persisted)
}

func (r *Resource) loadResponse(body []byte) error {
	if len(body) == 0 {
		return nil
	}

	decoded, err := r.class.formatIn(r.scope).Decode(body)
	if err != nil {
		return err
	}

	attrs, ok := decoded.(map[string]any)
	if !ok {
		return nil
	}

	return Load(r, attrs, true, r.persisted)
}

func (r *Resource) captureRemoteErrors(err error) {
	r.remoteErrors = NewErrors()

	if base, ok := AsConnectionError(err); ok && base.Response != nil {
		r.remoteErrors.loadRemote(base.Response.Body, r.class.formatIn(r.scope), r.knownAttributeNames())
	}

	r.Valid()
}

func (r *Resource) knownAttributeNames() []string {
	seen := map[string]bool{}

	var known []string

	for _, name := range r.class.KnownAttributes() {
		seen[name] = true

		known = append(known, name)
	}

	for _, name := range r.attrs.Keys() {
		if !seen[name] {
			known = append(known, name)
		}
	}

	return known
}

func zeroFor(attrType AttrType) any {
	switch attrType {
	case StringAttr:
		return ""
	case IntegerAttr:
		return int64(0)
	case FloatAttr:
		return float64(0)
	case BooleanAttr:
		return false
	default:
		return nil
	}
}

// idFromLocation extracts the trailing id segment of a Location header,
// dropping any format extension.
func idFromLocation(location string) string {
	if location == "" {
		return ""
	}

	segment := path.Base(location)
	if dot := strings.LastIndexByte(segment, '.'); dot > 0 {
		segment = segment[:dot]
	}

	if segment == "/" || segment == "." {
		return ""
	}

	return segment
}
