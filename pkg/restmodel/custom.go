package restmodel

import (
	"context"
)

// Custom methods address non-REST endpoints under the resource tree:
// "/people/managers.json" at the collection level, "/people/1/promote.json"
// at the element level. Responses decode in the class format and are
// returned as generic values.

// GetMethod issues a GET against a collection-level custom endpoint.
func (c *Class) GetMethod(ctx context.Context, method string, options Options) (any, error) {
	requestPath, err := c.customCollectionPath(MainScope, method, options)
	if err != nil {
		return nil, err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Get(ctx, requestPath, c.headersIn(MainScope))
	if err != nil {
		return nil, err
	}

	return c.formatIn(MainScope).Decode(response.Body)
}

// PostMethod issues a POST against a collection-level custom endpoint. A
// non-nil body is encoded in the class format.
func (c *Class) PostMethod(ctx context.Context, method string, options Options, body map[string]any) (any, error) {
	requestPath, err := c.customCollectionPath(MainScope, method, options)
	if err != nil {
		return nil, err
	}

	encoded, err := c.encodeBody(MainScope, body)
	if err != nil {
		return nil, err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Post(ctx, requestPath, encoded, c.headersIn(MainScope))
	if err != nil {
		return nil, err
	}

	return c.formatIn(MainScope).Decode(response.Body)
}

// PutMethod issues a PUT against a collection-level custom endpoint.
func (c *Class) PutMethod(ctx context.Context, method string, options Options, body map[string]any) (any, error) {
	requestPath, err := c.customCollectionPath(MainScope, method, options)
	if err != nil {
		return nil, err
	}

	encoded, err := c.encodeBody(MainScope, body)
	if err != nil {
		return nil, err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Put(ctx, requestPath, encoded, c.headersIn(MainScope))
	if err != nil {
		return nil, err
	}

	return c.formatIn(MainScope).Decode(response.Body)
}

// DeleteMethod issues a DELETE against a collection-level custom endpoint.
func (c *Class) DeleteMethod(ctx context.Context, method string, options Options) error {
	requestPath, err := c.customCollectionPath(MainScope, method, options)
	if err != nil {
		return err
	}

	conn, err := c.connection(MainScope)
	if err != nil {
		return err
	}

	_, err = conn.Delete(ctx, requestPath, c.headersIn(MainScope))

	return err
}

func (c *Class) customCollectionPath(scope Scope, method string, options Options) (string, error) {
	template := c.prefixTemplateIn(scope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	return template.CustomMethodCollectionPath(
		c.collectionNameIn(scope), method, c.extensionIn(scope), prefixOptions, queryOptions)
}

func (c *Class) encodeBody(scope Scope, body map[string]any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	return c.formatIn(scope).Encode(body)
}

// GetMethod issues a GET against an element-level custom endpoint.
func (r *Resource) GetMethod(ctx context.Context, method string, options Options) (any, error) {
	requestPath, err := r.customElementPath(method, options)
	if err != nil {
		return nil, err
	}

	conn, err := r.class.connection(r.scope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Get(ctx, requestPath, r.class.headersIn(r.scope))
	if err != nil {
		return nil, err
	}

	return r.class.formatIn(r.scope).Decode(response.Body)
}

// PostMethod issues a POST against an element-level custom endpoint.
func (r *Resource) PostMethod(ctx context.Context, method string, options Options, body map[string]any) (any, error) {
	requestPath, err := r.customElementPath(method, options)
	if err != nil {
		return nil, err
	}

	encoded, err := r.class.encodeBody(r.scope, body)
	if err != nil {
		return nil, err
	}

	conn, err := r.class.connection(r.scope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Post(ctx, requestPath, encoded, r.class.headersIn(r.scope))
	if err != nil {
		return nil, err
	}

	return r.class.formatIn(r.scope).Decode(response.Body)
}

// PutMethod issues a PUT against an element-level custom endpoint.
func (r *Resource) PutMethod(ctx context.Context, method string, options Options, body map[string]any) (any, error) {
	requestPath, err := r.customElementPath(method, options)
	if err != nil {
		return nil, err
	}

	encoded, err := r.class.encodeBody(r.scope, body)
	if err != nil {
		return nil, err
	}

	conn, err := r.class.connection(r.scope)
	if err != nil {
		return nil, err
	}

	response, err := conn.Put(ctx, requestPath, encoded, r.class.headersIn(r.scope))
	if err != nil {
		return nil, err
	}

	return r.class.formatIn(r.scope).Decode(response.Body)
}

// DeleteMethod issues a DELETE against an element-level custom endpoint.
func (r *Resource) DeleteMethod(ctx context.Context, method string, options Options) error {
	requestPath, err := r.customElementPath(method, options)
	if err != nil {
		return err
	}

	conn, err := r.class.connection(r.scope)
	if err != nil {
		return err
	}

	_, err = conn.Delete(ctx, requestPath, r.class.headersIn(r.scope))

	return err
}

func (r *Resource) customElementPath(method string, options Options) (string, error) {
	class := r.class
	template := class.prefixTemplateIn(r.scope)
	prefixOptions, queryOptions := template.SplitOptions(options)

	for key, value := range r.prefixOptions {
		if _, overridden := prefixOptions[key]; !overridden {
			prefixOptions[key] = value
		}
	}

	return template.CustomMethodElementPath(
		class.collectionNameIn(r.scope), r.ID(), method, class.extensionIn(r.scope), prefixOptions, queryOptions)
}
