// Package pathutil builds URL paths for remote resources: prefix templates
// with :param placeholders, element/collection paths, and nested query
// string encoding.
package pathutil

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// MissingPrefixParamError is returned when a prefix template placeholder has
// no value. It is raised before any request is dispatched.
type MissingPrefixParamError struct {
	Param string
}

// Error implements the error interface.
func (e *MissingPrefixParamError) Error() string {
	return fmt.Sprintf("missing prefix parameter: %s", e.Param)
}

var placeholderPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// Template is a parsed prefix template such as "/people/:person_id/".
// The placeholder set is extracted once at parse time.
type Template struct {
	raw    string
	params []string
}

// ParseTemplate parses a prefix template. An empty template expands to "/".
func ParseTemplate(raw string) *Template {
	if raw == "" {
		raw = "/"
	}

	matches := placeholderPattern.FindAllStringSubmatch(raw, -1)

	params := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, match := range matches {
		name := match[1]
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}

		params = append(params, name)
	}

	return &Template{raw: raw, params: params}
}

// Raw returns the unexpanded template string.
func (t *Template) Raw() string {
	return t.raw
}

// Params returns the placeholder names in template order.
func (t *Template) Params() []string {
	out := make([]string, len(t.params))
	copy(out, t.params)

	return out
}

// Expand substitutes placeholder values into the template. Every placeholder
// must have a non-blank value or a *MissingPrefixParamError is returned.
func (t *Template) Expand(prefixOptions map[string]any) (string, error) {
	expanded := t.raw

	for _, param := range t.params {
		value, ok := prefixOptions[param]
		if !ok || isBlank(value) {
			return "", &MissingPrefixParamError{Param: param}
		}

		expanded = strings.ReplaceAll(expanded, ":"+param, url.PathEscape(fmt.Sprint(value)))
	}

	if !strings.HasSuffix(expanded, "/") {
		expanded += "/"
	}

	return expanded, nil
}

// SplitOptions routes an arbitrary options map into prefix options (keys in
// the template's placeholder set) and query options (everything else).
func (t *Template) SplitOptions(options map[string]any) (map[string]any, map[string]any) {
	prefixOptions := make(map[string]any)
	queryOptions := make(map[string]any)

	paramSet := make(map[string]struct{}, len(t.params))
	for _, param := range t.params {
		paramSet[param] = struct{}{}
	}

	for key, value := range options {
		if _, isPrefix := paramSet[key]; isPrefix {
			prefixOptions[key] = value
		} else {
			queryOptions[key] = value
		}
	}

	return prefixOptions, queryOptions
}

// ElementPath builds the path for a single resource instance:
// prefix + collection + "/" + id + extension + query string.
func (t *Template) ElementPath(collection string, id any, extension string, prefixOptions, queryOptions map[string]any) (string, error) {
	prefix, err := t.Expand(prefixOptions)
	if err != nil {
		return "", err
	}

	return prefix + collection + "/" + url.PathEscape(fmt.Sprint(id)) + extensionSuffix(extension) + QueryString(queryOptions), nil
}

// CollectionPath builds the path for a resource collection.
func (t *Template) CollectionPath(collection string, extension string, prefixOptions, queryOptions map[string]any) (string, error) {
	prefix, err := t.Expand(prefixOptions)
	if err != nil {
		return "", err
	}

	return prefix + collection + extensionSuffix(extension) + QueryString(queryOptions), nil
}

// NewElementPath builds the path used to fetch a template for a new
// resource, e.g. "/people/new.json".
func (t *Template) NewElementPath(collection string, extension string, prefixOptions map[string]any) (string, error) {
	prefix, err := t.Expand(prefixOptions)
	if err != nil {
		return "", err
	}

	return prefix + collection + "/new" + extensionSuffix(extension), nil
}

// CustomMethodCollectionPath builds "/collection/method.ext" for
// collection-level custom endpoints.
func (t *Template) CustomMethodCollectionPath(collection, method, extension string, prefixOptions, queryOptions map[string]any) (string, error) {
	prefix, err := t.Expand(prefixOptions)
	if err != nil {
		return "", err
	}

	return prefix + collection + "/" + method + extensionSuffix(extension) + QueryString(queryOptions), nil
}

// CustomMethodElementPath builds "/collection/id/method.ext" for
// element-level custom endpoints.
func (t *Template) CustomMethodElementPath(collection string, id any, method, extension string, prefixOptions, queryOptions map[string]any) (string, error) {
	prefix, err := t.Expand(prefixOptions)
	if err != nil {
		return "", err
	}

	return prefix + collection + "/" + url.PathEscape(fmt.Sprint(id)) + "/" + method + extensionSuffix(extension) + QueryString(queryOptions), nil
}

func extensionSuffix(extension string) string {
	if extension == "" {
		return ""
	}

	return "." + extension
}

// QueryString encodes options as a "?"-prefixed query string, or returns ""
// when options are empty. Nested slices and maps use bracket notation:
// name[]=a&name[]=b, struct[a][]=1.
func QueryString(options map[string]any) string {
	encoded := EncodeQuery(options)
	if encoded == "" {
		return ""
	}

	return "?" + encoded
}

// EncodeQuery encodes a nested options map without the leading "?". Keys are
// encoded in sorted order at every level so output is deterministic.
func EncodeQuery(options map[string]any) string {
	if len(options) == 0 {
		return ""
	}

	var pairs []string

	keys := sortedKeys(options)
	for _, key := range keys {
		pairs = append(pairs, encodeValue(key, options[key])...)
	}

	return strings.Join(pairs, "&")
}

func encodeValue(key string, value any) []string {
	switch typed := value.(type) {
	case nil:
		return []string{url.QueryEscape(key) + "="}
	case map[string]any:
		var pairs []string
		for _, sub := range sortedKeys(typed) {
			pairs = append(pairs, encodeValue(key+"["+sub+"]", typed[sub])...)
		}

		return pairs
	case []any:
		var pairs []string
		for _, element := range typed {
			pairs = append(pairs, encodeValue(key+"[]", element)...)
		}

		return pairs
	case []string:
		var pairs []string
		for _, element := range typed {
			pairs = append(pairs, encodeValue(key+"[]", element)...)
		}

		return pairs
	default:
		return []string{url.QueryEscape(key) + "=" + url.QueryEscape(fmt.Sprint(typed))}
	}
}

func sortedKeys(options map[string]any) []string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}

	if str, ok := value.(string); ok {
		return strings.TrimSpace(str) == ""
	}

	return false
}
