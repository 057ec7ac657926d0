package restmodel

import (
	"github.com/gobuffalo/flect"
)

// Macro identifies the kind of a declared association.
type Macro string

// Association macros.
const (
	MacroHasMany   Macro = "has_many"
	MacroHasOne    Macro = "has_one"
	MacroBelongsTo Macro = "belongs_to"
)

// Reflection records one declared association: its macro, the attribute
// name it binds, and the target class the loader should build values with.
type Reflection struct {
	macro     Macro
	name      string
	className string
	class     *Class
}

// Macro returns the association kind.
func (r *Reflection) Macro() Macro { return r.macro }

// AttrName returns the attribute name the association binds.
func (r *Reflection) AttrName() string { return r.name }

// ClassName returns the CamelCase name of the target class.
func (r *Reflection) ClassName() string { return r.className }

// TargetClass resolves the target class: an explicit class if one was
// given, else the registry entry for the class name.
func (r *Reflection) TargetClass() (*Class, bool) {
	if r.class != nil {
		return r.class, true
	}

	return LookupClass(r.className)
}

// ReflectionOption configures a declared association.
type ReflectionOption func(*Reflection)

// WithClass binds the association to an explicit class.
func WithClass(class *Class) ReflectionOption {
	return func(r *Reflection) {
		r.class = class
		r.className = class.name
	}
}

// WithClassName overrides the class name derived from the attribute name.
func WithClassName(name string) ReflectionOption {
	return func(r *Reflection) { r.className = name }
}

// HasMany declares a one-to-many association under the given attribute
// name. The target class name derives from the singularized attribute name
// unless overridden.
func (c *Class) HasMany(name string, opts ...ReflectionOption) *Reflection {
	return c.addReflection(MacroHasMany, name, flect.Pascalize(flect.Singularize(name)), opts)
}

// HasOne declares a one-to-one association.
func (c *Class) HasOne(name string, opts ...ReflectionOption) *Reflection {
	return c.addReflection(MacroHasOne, name, flect.Pascalize(name), opts)
}

// BelongsTo declares an owner association.
func (c *Class) BelongsTo(name string, opts ...ReflectionOption) *Reflection {
	return c.addReflection(MacroBelongsTo, name, flect.Pascalize(name), opts)
}

func (c *Class) addReflection(macro Macro, name, className string, opts []ReflectionOption) *Reflection {
	reflection := &Reflection{macro: macro, name: name, className: className}
	for _, opt := range opts {
		opt(reflection)
	}

	c.mu.Lock()
	c.reflections[name] = reflection
	c.mu.Unlock()

	return reflection
}

// Reflections returns the associations declared on this class and its
// ancestors, child declarations shadowing parent ones.
func (c *Class) Reflections() map[string]*Reflection {
	merged := make(map[string]*Reflection)

	var chain []*Class
	for class := c; class != nil; class = class.parent {
		chain = append(chain, class)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for name, reflection := range chain[i].reflections {
			merged[name] = reflection
		}
		chain[i].mu.RUnlock()
	}

	return merged
}

func (c *Class) reflectionFor(name string) (*Reflection, bool) {
	for class := c; class != nil; class = class.parent {
		class.mu.RLock()
		reflection, ok := class.reflections[name]
		class.mu.RUnlock()

		if ok {
			return reflection, true
		}
	}

	return nil, false
}

// classForAttr resolves the class the loader should use for a nested value
// under the given attribute key: a declared reflection wins, then a
// registered class matching the derived name, then a previously vivified
// nested class, and finally a fresh nested class created on the fly.
func (c *Class) classForAttr(key string, plural bool) *Class {
	if reflection, ok := c.reflectionFor(key); ok {
		if target, found := reflection.TargetClass(); found {
			return target
		}
	}

	name := key
	if plural {
		name = flect.Singularize(key)
	}

	camel := flect.Pascalize(name)

	if class, ok := LookupClass(camel); ok {
		return class
	}

	return c.vivifyNested(camel)
}

// vivifyNested finds or creates a nested class scoped to this class's
// lineage. Vivified classes share the enclosing class's site and prefix so
// requests made through them land under the same tree.
func (c *Class) vivifyNested(name string) *Class {
	for class := c; class != nil; class = class.owner {
		class.mu.RLock()
		nested, ok := class.nested[name]
		class.mu.RUnlock()

		if ok {
			return nested
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if nested, ok := c.nested[name]; ok {
		return nested
	}

	nested := newBareClass(name)
	nested.owner = c
	nested.site = c.site
	nested.prefix = c.prefix
	nested.format = c.format

	c.nested[name] = nested

	return nested
}
