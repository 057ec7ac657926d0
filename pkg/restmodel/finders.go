package restmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/restmodel-io/restmodel/internal/pathutil"
)

// Find fetches a single resource by primary key. Options matching the
// class prefix placeholders select the URL subtree; the rest become query
// parameters.
func (c *Class) Find(ctx context.Context, id any, options Options) (*Resource, error) {
	return c.findIn(ctx, MainScope, id, options)
}

func (c *Class) findIn(ctx context.Context, scope Scope, id any, options Options) (*Resource, error) {
	template := c.prefixTemplateIn(scope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	elementPath, err := template.ElementPath(
		c.collectionNameIn(scope), id, c.extensionIn(scope), prefixOptions, queryOptions)
	if err != nil {
		return nil, err
	}

	conn, err := c.connection(scope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Get(ctx, elementPath, c.headersIn(scope))
	if err != nil {
		return nil, err
	}

	return c.decodeElement(scope, response.Body, prefixOptions)
}

// FindAll returns a lazy collection for the given options. No request is
// made until the collection is materialized.
func (c *Class) FindAll(options Options) *Collection {
	return c.findAllIn(MainScope, options, "")
}

// FindAllFrom is FindAll against a custom endpoint: a collection-level
// custom method name, or a literal path when it starts with "/".
func (c *Class) FindAllFrom(from string, options Options) *Collection {
	return c.findAllIn(MainScope, options, from)
}

// FindFirst materializes the collection and returns its first element, or
// nil when empty.
func (c *Class) FindFirst(ctx context.Context, options Options) (*Resource, error) {
	return c.FindAll(options).First(ctx)
}

// FindLast materializes the collection and returns its last element, or
// nil when empty.
func (c *Class) FindLast(ctx context.Context, options Options) (*Resource, error) {
	return c.FindAll(options).Last(ctx)
}

// FindOne fetches a single resource from a custom endpoint: a
// collection-level custom method name, or a literal path when it starts
// with "/".
func (c *Class) FindOne(ctx context.Context, from string, options Options) (*Resource, error) {
	scope := MainScope
	template := c.prefixTemplateIn(scope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	var (
		requestPath string
		err         error
	)

	if strings.HasPrefix(from, "/") {
		requestPath = from + pathutil.QueryString(queryOptions)
	} else {
		requestPath, err = template.CustomMethodCollectionPath(
			c.collectionNameIn(scope), from, c.extensionIn(scope), prefixOptions, queryOptions)
		if err != nil {
			return nil, err
		}
	}

	conn, err := c.connection(scope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Get(ctx, requestPath, c.headersIn(scope))
	if err != nil {
		return nil, err
	}

	return c.decodeElement(scope, response.Body, prefixOptions)
}

// Exists checks for the resource with a HEAD request. 404 and 410 report
// false without error; other failures propagate.
func (c *Class) Exists(ctx context.Context, id any, options Options) (bool, error) {
	template := c.prefixTemplateIn(MainScope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	elementPath, err := template.ElementPath(
		c.collectionNameIn(MainScope), id, c.extensionIn(MainScope), prefixOptions, queryOptions)
	if err != nil {
		return false, err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return false, err
	}

	if _, err := conn.Head(ctx, elementPath, c.headersIn(MainScope)); err != nil {
		if IsNotFound(err) || isGone(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Delete removes a resource by primary key without instantiating it.
func (c *Class) Delete(ctx context.Context, id any, options Options) error {
	template := c.prefixTemplateIn(MainScope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	elementPath, err := template.ElementPath(
		c.collectionNameIn(MainScope), id, c.extensionIn(MainScope), prefixOptions, queryOptions)
	if err != nil {
		return err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return err
	}

	_, err = conn.Delete(ctx, elementPath, c.headersIn(MainScope))

	return err
}

// decodeElement decodes a single-resource body, unwrapping the element-name
// root when present.
func (c *Class) decodeElement(scope Scope, body []byte, prefixOptions map[string]any) (*Resource, error) {
	decoded, err := c.formatIn(scope).Decode(body)
	if err != nil {
		return nil, err
	}

	attrs, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidAttributes, decoded)
	}

	resource := &Resource{
		class:         c,
		scope:         scope,
		attrs:         NewAttrs(),
		prefixOptions: make(map[string]any),
		errors:        NewErrors(),
	}

	if err := Load(resource, attrs, true, true); err != nil {
		return nil, err
	}

	for key, value := range prefixOptions {
		resource.prefixOptions[key] = value
	}

	return resource, nil
}

// decodeList decodes a collection body: either a bare list or a list under
// the collection-name root.
func (c *Class) decodeList(scope Scope, body []byte, prefixOptions map[string]any) ([]*Resource, error) {
	decoded, err := c.formatIn(scope).Decode(body)
	if err != nil {
		return nil, err
	}

	if wrapper, ok := decoded.(map[string]any); ok {
		if inner, present := wrapper[c.collectionNameIn(scope)]; present {
			decoded = inner
		} else if len(wrapper) == 1 {
			for _, inner := range wrapper {
				if _, isList := inner.([]any); isList {
					decoded = inner
				}
			}
		}
	}

	elements, ok := decoded.([]any)
	if !ok {
		if decoded == nil {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: got %T", ErrInvalidAttributes, decoded)
	}

	resources := make([]*Resource, 0, len(elements))

	for _, element := range elements {
		attrs, isMap := element.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("%w: got %T", ErrInvalidAttributes, element)
		}

		resource, err := c.decodeListElement(scope, attrs, prefixOptions)
		if err != nil {
			return nil, err
		}

		resources = append(resources, resource)
	}

	return resources, nil
}

func (c *Class) decodeListElement(scope Scope, attrs map[string]any, prefixOptions map[string]any) (*Resource, error) {
	resource := &Resource{
		class:         c,
		scope:         scope,
		attrs:         NewAttrs(),
		prefixOptions: make(map[string]any),
		errors:        NewErrors(),
	}

	if err := Load(resource, attrs, false, true); err != nil {
		return nil, err
	}

	for key, value := range prefixOptions {
		resource.prefixOptions[key] = value
	}

	return resource, nil
}

func isGone(err error) bool {
	target := &ResourceGoneError{}

	return errors.As(err, &target)
}
