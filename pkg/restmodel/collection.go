package restmodel

import (
	"context"
	"strings"
	"sync"

	"github.com/restmodel-io/restmodel/internal/pathutil"
)

// Collection is a lazy query result. Building and refining it never touches
// the network; the first materializing call issues exactly one GET, and the
// result is reused until Refresh. A 404 during materialization yields an
// empty collection; every other error propagates.
type Collection struct {
	class   *Class
	scope   Scope
	from    string
	options Options

	mu       sync.Mutex
	fetched  bool
	elements []*Resource
}

func (c *Class) findAllIn(scope Scope, options Options, from string) *Collection {
	return &Collection{
		class:   c,
		scope:   scope,
		from:    from,
		options: deepMergeOptions(nil, options),
	}
}

// Where refines the query with additional clauses, deep-merging nested
// maps. It returns a new, unfetched collection; the receiver is unchanged.
func (col *Collection) Where(clauses Options) *Collection {
	return &Collection{
		class:   col.class,
		scope:   col.scope,
		from:    col.from,
		options: deepMergeOptions(col.options, clauses),
	}
}

// All materializes the collection and returns its elements.
func (col *Collection) All(ctx context.Context) ([]*Resource, error) {
	if err := col.materialize(ctx); err != nil {
		return nil, err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	elements := make([]*Resource, len(col.elements))
	copy(elements, col.elements)

	return elements, nil
}

// ToA is an alias for All.
func (col *Collection) ToA(ctx context.Context) ([]*Resource, error) {
	return col.All(ctx)
}

// Call forces materialization and returns the elements.
func (col *Collection) Call(ctx context.Context) ([]*Resource, error) {
	return col.All(ctx)
}

// First returns the first element, or nil when the collection is empty.
func (col *Collection) First(ctx context.Context) (*Resource, error) {
	elements, err := col.All(ctx)
	if err != nil {
		return nil, err
	}

	if len(elements) == 0 {
		return nil, nil
	}

	return elements[0], nil
}

// Last returns the last element, or nil when the collection is empty.
func (col *Collection) Last(ctx context.Context) (*Resource, error) {
	elements, err := col.All(ctx)
	if err != nil {
		return nil, err
	}

	if len(elements) == 0 {
		return nil, nil
	}

	return elements[len(elements)-1], nil
}

// Size materializes the collection and returns its length.
func (col *Collection) Size(ctx context.Context) (int, error) {
	elements, err := col.All(ctx)
	if err != nil {
		return 0, err
	}

	return len(elements), nil
}

// Each yields every element in order.
func (col *Collection) Each(ctx context.Context, yield func(*Resource) error) error {
	elements, err := col.All(ctx)
	if err != nil {
		return err
	}

	for _, element := range elements {
		if err := yield(element); err != nil {
			return err
		}
	}

	return nil
}

// Map transforms every element in order.
func (col *Collection) Map(ctx context.Context, transform func(*Resource) any) ([]any, error) {
	elements, err := col.All(ctx)
	if err != nil {
		return nil, err
	}

	mapped := make([]any, 0, len(elements))
	for _, element := range elements {
		mapped = append(mapped, transform(element))
	}

	return mapped, nil
}

// Refresh discards the cached result; the next materializing call fetches
// again.
func (col *Collection) Refresh() *Collection {
	col.mu.Lock()
	defer col.mu.Unlock()

	col.fetched = false
	col.elements = nil

	return col
}

// FirstOrCreate returns the first element, or creates a resource from the
// query clauses merged with extra attributes. The resource is returned even
// when server validation rejected it; check its Errors.
func (col *Collection) FirstOrCreate(ctx context.Context, attrs map[string]any) (*Resource, error) {
	resource, err := col.FirstOrInitialize(ctx, attrs)
	if err != nil {
		return nil, err
	}

	if resource.Persisted() {
		return resource, nil
	}

	if _, err := resource.Save(ctx); err != nil {
		return nil, err
	}

	return resource, nil
}

// FirstOrInitialize returns the first element, or an unsaved resource
// built from the query clauses merged with extra attributes.
func (col *Collection) FirstOrInitialize(ctx context.Context, attrs map[string]any) (*Resource, error) {
	first, err := col.First(ctx)
	if err != nil {
		return nil, err
	}

	if first != nil {
		return first, nil
	}

	seed := make(map[string]any)
	for key, value := range col.options {
		seed[key] = value
	}

	for key, value := range attrs {
		seed[key] = value
	}

	return col.class.newIn(col.scope, seed)
}

func (col *Collection) materialize(ctx context.Context) error {
	col.mu.Lock()
	defer col.mu.Unlock()

	if col.fetched {
		return nil
	}

	class := col.class
	template := class.prefixTemplateIn(col.scope)
	prefixOptions, queryOptions := template.SplitOptions(col.options)

	requestPath, err := col.requestPath(template, prefixOptions, queryOptions)
	if err != nil {
		return err
	}

	conn, err := class.connection(col.scope)
	if err != nil {
		return err
	}

	response, err := conn.Get(ctx, requestPath, class.headersIn(col.scope))
	if err != nil {
		if IsNotFound(err) {
			col.fetched = true
			col.elements = nil

			return nil
		}

		return err
	}

	elements, err := class.decodeList(col.scope, response.Body, prefixOptions)
	if err != nil {
		return err
	}

	col.fetched = true
	col.elements = elements

	return nil
}

func (col *Collection) requestPath(template *pathutil.Template, prefixOptions, queryOptions map[string]any) (string, error) {
	class := col.class

	switch {
	case strings.HasPrefix(col.from, "/"):
		return col.from + pathutil.QueryString(queryOptions), nil
	case col.from != "":
		return template.CustomMethodCollectionPath(
			class.collectionNameIn(col.scope), col.from, class.extensionIn(col.scope), prefixOptions, queryOptions)
	default:
		return template.CollectionPath(
			class.collectionNameIn(col.scope), class.extensionIn(col.scope), prefixOptions, queryOptions)
	}
}

// deepMergeOptions merges override into base without mutating either;
// nested maps merge recursively, everything else is replaced.
func deepMergeOptions(base, override Options) Options {
	merged := make(Options, len(base)+len(override))

	for key, value := range base {
		merged[key] = value
	}

	for key, value := range override {
		existing, present := merged[key]
		if present {
			existingMap, existingIsMap := asOptionMap(existing)

			overrideMap, overrideIsMap := asOptionMap(value)
			if existingIsMap && overrideIsMap {
				merged[key] = map[string]any(deepMergeOptions(existingMap, overrideMap))

				continue
			}
		}

		merged[key] = value
	}

	return merged
}

func asOptionMap(value any) (Options, bool) {
	switch typed := value.(type) {
	case Options:
		return typed, true
	case map[string]any:
		return Options(typed), true
	default:
		return nil, false
	}
}
