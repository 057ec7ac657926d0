package restmodel

// Load fills a resource's attributes from a decoded attribute map. When
// removeRoot is true and exactly one key remains after prefix-option
// splitting, matching the class element name with a map value, that wrapper
// is unwrapped first. Keys in the class prefix template become prefix
// options; map values become nested resources; slices of maps become nested
// resource slices; everything else is stored duplicated so later payload
// mutation cannot alias resource state.
//
// Load either applies completely or not at all: on error the resource is
// unchanged.
func Load(r *Resource, attrs map[string]any, removeRoot, persisted bool) error {
	class := r.class
	template := class.prefixTemplateIn(r.scope)

	prefixOptions, rest := template.SplitOptions(attrs)

	if removeRoot && len(rest) == 1 {
		elementName := class.elementNameIn(r.scope)
		if inner, ok := rest[elementName].(map[string]any); ok {
			rest = inner
		}
	}

	staged := NewAttrs()

	for _, key := range sortedAnyKeys(rest) {
		value, err := coerceAttrValue(class, r.scope, key, rest[key])
		if err != nil {
			return err
		}

		staged.Set(key, value)
	}

	for key, value := range prefixOptions {
		r.prefixOptions[key] = value
	}

	staged.Each(func(name string, value any) {
		r.attrs.Set(name, value)
	})

	r.persisted = persisted

	return nil
}

// coerceAttrValue converts one raw attribute value to its stored form.
func coerceAttrValue(class *Class, scope Scope, key string, value any) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		return nestedResource(class.classForAttr(key, false), scope, typed)
	case []any:
		if allMaps(typed) {
			target := class.classForAttr(key, true)
			resources := make([]*Resource, 0, len(typed))

			for _, element := range typed {
				nested, err := nestedResource(target, scope, element.(map[string]any))
				if err != nil {
					return nil, err
				}

				resources = append(resources, nested)
			}

			return resources, nil
		}

		duplicated := make([]any, 0, len(typed))

		for _, element := range typed {
			coerced, err := coerceAttrValue(class, scope, key, element)
			if err != nil {
				return nil, err
			}

			duplicated = append(duplicated, coerced)
		}

		return duplicated, nil
	default:
		return value, nil
	}
}

func nestedResource(class *Class, scope Scope, attrs map[string]any) (*Resource, error) {
	resource := &Resource{
		class:         class,
		scope:         scope,
		attrs:         NewAttrs(),
		prefixOptions: make(map[string]any),
		errors:        NewErrors(),
	}

	if err := Load(resource, attrs, false, true); err != nil {
		return nil, err
	}

	return resource, nil
}

func allMaps(values []any) bool {
	if len(values) == 0 {
		return false
	}

	for _, value := range values {
		if _, ok := value.(map[string]any); !ok {
			return false
		}
	}

	return true
}
