package restmodel

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gobuffalo/flect"
)

// AttrType declares an attribute's expected type in a class schema. Schema
// declaration is optional; its only effects are that known attributes read
// as their zero value instead of missing, and that legacy error messages
// can be attributed back to attributes.
type AttrType string

// Schema attribute types.
const (
	StringAttr  AttrType = "string"
	IntegerAttr AttrType = "integer"
	FloatAttr   AttrType = "float"
	BooleanAttr AttrType = "boolean"
	TimeAttr    AttrType = "time"
)

// Validator inspects a resource and records failures on its Errors
// collection.
type Validator func(*Resource)

// DefineAttribute declares a schema attribute. Declaration order is
// preserved for KnownAttributes.
func (c *Class) DefineAttribute(name string, attrType AttrType) *Class {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.schema[name]; !exists {
		c.schemaOrder = append(c.schemaOrder, name)
	}

	c.schema[name] = attrType

	return c
}

// Schema returns the declared schema, merged down the parent chain.
func (c *Class) Schema() map[string]AttrType {
	merged := make(map[string]AttrType)

	var chain []*Class
	for class := c; class != nil; class = class.parent {
		chain = append(chain, class)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for name, attrType := range chain[i].schema {
			merged[name] = attrType
		}
		chain[i].mu.RUnlock()
	}

	return merged
}

// KnownAttributes returns declared attribute names, ancestors first, in
// declaration order.
func (c *Class) KnownAttributes() []string {
	var (
		chain []*Class
		names []string
		seen  = map[string]bool{}
	)

	for class := c; class != nil; class = class.parent {
		chain = append(chain, class)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for _, name := range chain[i].schemaOrder {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		chain[i].mu.RUnlock()
	}

	return names
}

// AddValidator registers a custom validator.
func (c *Class) AddValidator(validator Validator) {
	c.mu.Lock()
	c.validators = append(c.validators, validator)
	c.mu.Unlock()
}

// ValidatesPresenceOf requires the named attributes to be present and
// non-blank.
func (c *Class) ValidatesPresenceOf(names ...string) {
	c.AddValidator(func(r *Resource) {
		for _, name := range names {
			value, ok := r.attrs.Get(name)
			if !ok || isBlankValue(value) {
				r.Errors().Add(name, "can't be blank")
			}
		}
	})
}

// ValidatesFormatOf requires the attribute's string form to match the
// pattern. Blank values pass; combine with ValidatesPresenceOf to require
// them.
func (c *Class) ValidatesFormatOf(name string, pattern *regexp.Regexp) {
	c.AddValidator(func(r *Resource) {
		value, ok := r.attrs.Get(name)
		if !ok || isBlankValue(value) {
			return
		}

		if !pattern.MatchString(fmt.Sprint(value)) {
			r.Errors().Add(name, "is invalid")
		}
	})
}

// ValidatesLengthOf bounds the attribute's string length. A max of 0 means
// unbounded above.
func (c *Class) ValidatesLengthOf(name string, min, max int) {
	c.AddValidator(func(r *Resource) {
		value, ok := r.attrs.Get(name)
		if !ok {
			if min > 0 {
				r.Errors().Add(name, fmt.Sprintf("is too short (minimum is %d characters)", min))
			}

			return
		}

		length := len(fmt.Sprint(value))

		if length < min {
			r.Errors().Add(name, fmt.Sprintf("is too short (minimum is %d characters)", min))
		}

		if max > 0 && length > max {
			r.Errors().Add(name, fmt.Sprintf("is too long (maximum is %d characters)", max))
		}
	})
}

func (c *Class) validatorChain() []Validator {
	var all []Validator

	var chain []*Class
	for class := c; class != nil; class = class.parent {
		chain = append(chain, class)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		all = append(all, chain[i].validators...)
		chain[i].mu.RUnlock()
	}

	return all
}

func isBlankValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}

// baseKey collects errors not tied to a specific attribute.
const baseKey = "base"

// Errors collects validation failures per attribute, in insertion order.
type Errors struct {
	order    []string
	messages map[string][]string
}

// NewErrors creates an empty collection.
func NewErrors() *Errors {
	return &Errors{messages: make(map[string][]string)}
}

// Add records a message against an attribute.
func (e *Errors) Add(attr, message string) {
	if _, exists := e.messages[attr]; !exists {
		e.order = append(e.order, attr)
	}

	e.messages[attr] = append(e.messages[attr], message)
}

// AddToBase records a message not tied to any attribute.
func (e *Errors) AddToBase(message string) {
	e.Add(baseKey, message)
}

// On returns the messages recorded against an attribute.
func (e *Errors) On(attr string) []string {
	return e.messages[attr]
}

// OnBase returns messages not tied to any attribute.
func (e *Errors) OnBase() []string {
	return e.messages[baseKey]
}

// Size returns the total message count.
func (e *Errors) Size() int {
	total := 0
	for _, messages := range e.messages {
		total += len(messages)
	}

	return total
}

// IsEmpty reports whether no messages are recorded.
func (e *Errors) IsEmpty() bool {
	return e.Size() == 0
}

// Clear removes all messages.
func (e *Errors) Clear() {
	e.order = nil
	e.messages = make(map[string][]string)
}

// Each yields attribute/message pairs in insertion order.
func (e *Errors) Each(yield func(attr, message string)) {
	for _, attr := range e.order {
		for _, message := range e.messages[attr] {
			yield(attr, message)
		}
	}
}

// FullMessages returns human-readable messages: base messages verbatim,
// attribute messages prefixed with the humanized attribute name.
func (e *Errors) FullMessages() []string {
	var full []string

	e.Each(func(attr, message string) {
		if attr == baseKey {
			full = append(full, message)

			return
		}

		full = append(full, flect.Humanize(attr)+" "+message)
	})

	return full
}

// loadRemote fills the collection from a 422 response body. Two shapes are
// understood: a map of attribute names to message lists, and a legacy flat
// list of full messages which are attributed back to attributes by
// longest humanized-name prefix, falling back to base. Undecodable bodies
// leave the collection untouched; a failed save never fails twice.
func (e *Errors) loadRemote(body []byte, format Format, known []string) {
	decoded, err := format.Decode(body)
	if err != nil {
		return
	}

	root, ok := decoded.(map[string]any)
	if !ok {
		return
	}

	payload, ok := root["errors"]
	if !ok {
		// Some servers nest errors one level deeper, under the element name;
		// older ones return the attribute map at the top level.
		if len(root) == 1 {
			for _, inner := range root {
				if innerMap, isMap := inner.(map[string]any); isMap {
					payload = innerMap["errors"]
				}
			}
		}

		if payload == nil {
			payload = root
		}
	}

	switch typed := payload.(type) {
	case map[string]any:
		e.loadRemoteMap(typed)
	case []any:
		e.loadRemoteList(typed, known)
	}
}

func (e *Errors) loadRemoteMap(errors map[string]any) {
	for _, attr := range sortedAnyKeys(errors) {
		switch messages := errors[attr].(type) {
		case []any:
			for _, message := range messages {
				e.Add(attr, fmt.Sprint(message))
			}
		case string:
			e.Add(attr, messages)
		default:
			e.Add(attr, fmt.Sprint(messages))
		}
	}
}

func (e *Errors) loadRemoteList(messages []any, known []string) {
	// Longer humanized names match first so "first_name" beats "name".
	humanized := make([]string, len(known))
	for i, attr := range known {
		humanized[i] = flect.Humanize(attr)
	}

	order := make([]int, len(known))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return len(humanized[order[a]]) > len(humanized[order[b]])
	})

	for _, raw := range messages {
		message := fmt.Sprint(raw)
		attributed := false

		for _, i := range order {
			if humanized[i] == "" {
				continue
			}

			if strings.HasPrefix(message, humanized[i]+" ") {
				e.Add(known[i], strings.TrimPrefix(message, humanized[i]+" "))

				attributed = true

				break
			}
		}

		if !attributed {
			e.AddToBase(message)
		}
	}
}
