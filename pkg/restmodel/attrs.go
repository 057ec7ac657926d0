package restmodel

// Attrs is an ordered attribute mapping. Iteration follows insertion order;
// attributes loaded from a decoded payload are inserted in sorted key order,
// so iteration over loaded resources is deterministic.
type Attrs struct {
	keys   []string
	values map[string]any
}

// NewAttrs creates an empty attribute mapping.
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string]any)}
}

// Get returns the named attribute.
func (a *Attrs) Get(name string) (any, bool) {
	value, ok := a.values[name]

	return value, ok
}

// Set stores an attribute, preserving the position of existing keys.
func (a *Attrs) Set(name string, value any) {
	if _, exists := a.values[name]; !exists {
		a.keys = append(a.keys, name)
	}

	a.values[name] = value
}

// Delete removes an attribute.
func (a *Attrs) Delete(name string) {
	if _, exists := a.values[name]; !exists {
		return
	}

	delete(a.values, name)

	for i, key := range a.keys {
		if key == name {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)

			break
		}
	}
}

// Has reports whether the attribute exists.
func (a *Attrs) Has(name string) bool {
	_, ok := a.values[name]

	return ok
}

// Keys returns attribute names in insertion order.
func (a *Attrs) Keys() []string {
	keys := make([]string, len(a.keys))
	copy(keys, a.keys)

	return keys
}

// Len returns the number of attributes.
func (a *Attrs) Len() int {
	return len(a.keys)
}

// Each yields attributes in insertion order.
func (a *Attrs) Each(yield func(name string, value any)) {
	for _, key := range a.keys {
		yield(key, a.values[key])
	}
}

// Dup returns a shallow copy preserving order.
func (a *Attrs) Dup() *Attrs {
	copied := NewAttrs()
	for _, key := range a.keys {
		copied.Set(key, a.values[key])
	}

	return copied
}

// Map returns a plain map copy of the attributes, with nested resources and
// resource slices expanded to plain maps and slices.
func (a *Attrs) Map() map[string]any {
	plain := make(map[string]any, len(a.keys))
	for _, key := range a.keys {
		plain[key] = plainValue(a.values[key])
	}

	return plain
}

func plainValue(value any) any {
	switch typed := value.(type) {
	case *Resource:
		return typed.Attributes().Map()
	case []*Resource:
		expanded := make([]any, 0, len(typed))
		for _, resource := range typed {
			expanded = append(expanded, resource.Attributes().Map())
		}

		return expanded
	case []any:
		expanded := make([]any, 0, len(typed))
		for _, element := range typed {
			expanded = append(expanded, plainValue(element))
		}

		return expanded
	default:
		return value
	}
}
