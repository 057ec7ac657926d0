package restmodel

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobuffalo/flect"
	"gopkg.in/yaml.v3"
)

// Format is the pluggable encode/decode strategy for request and response
// bodies, identified by a mime type and a path extension.
type Format interface {
	Encode(data any) ([]byte, error)
	Decode(body []byte) (any, error)
	MimeType() string
	Extension() string
}

// Built-in formats.
var (
	JSON Format = &JSONFormat{}
	XML  Format = &XMLFormat{}
	YAML Format = &YAMLFormat{}
)

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{
		JSON.Extension(): JSON,
		XML.Extension():  XML,
		YAML.Extension(): YAML,
	}
)

// RegisterFormat makes a format discoverable by extension.
func RegisterFormat(format Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()

	formats[format.Extension()] = format
}

// FormatByExtension looks up a registered format.
func FormatByExtension(extension string) (Format, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	format, ok := formats[strings.TrimPrefix(extension, ".")]

	return format, ok
}

// JSONFormat is the default wire format.
type JSONFormat struct{}

// Encode implements Format.
func (*JSONFormat) Encode(data any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding JSON: %w", err)
	}

	return encoded, nil
}

// Decode implements Format.
func (*JSONFormat) Decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}

	return decoded, nil
}

// MimeType implements Format.
func (*JSONFormat) MimeType() string { return "application/json" }

// Extension implements Format.
func (*JSONFormat) Extension() string { return "json" }

// YAMLFormat round-trips bodies through YAML.
type YAMLFormat struct{}

// Encode implements Format.
func (*YAMLFormat) Encode(data any) ([]byte, error) {
	encoded, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding YAML: %w", err)
	}

	return encoded, nil
}

// Decode implements Format.
func (*YAMLFormat) Decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var decoded any
	if err := yaml.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}

	return decoded, nil
}

// MimeType implements Format.
func (*YAMLFormat) MimeType() string { return "application/yaml" }

// Extension implements Format.
func (*YAMLFormat) Extension() string { return "yaml" }

// XMLFormat maps a simplified element tree onto the same generic shapes the
// JSON format produces: maps, slices, and strings. Scalar values decode as
// strings; collections are recognized by a type="array" attribute, repeated
// sibling names, or a single child named with the singular of its parent.
type XMLFormat struct{}

// Encode implements Format.
func (f *XMLFormat) Encode(data any) ([]byte, error) {
	var buffer bytes.Buffer

	buffer.WriteString(xml.Header)

	root, ok := data.(map[string]any)
	if !ok || len(root) != 1 {
		return nil, fmt.Errorf("encoding XML: %w", ErrInvalidAttributes)
	}

	for _, key := range sortedAnyKeys(root) {
		if err := encodeXMLElement(&buffer, key, root[key]); err != nil {
			return nil, err
		}
	}

	return buffer.Bytes(), nil
}

func encodeXMLElement(buffer *bytes.Buffer, name string, value any) error {
	switch typed := value.(type) {
	case map[string]any:
		buffer.WriteString("<" + name + ">")

		for _, key := range sortedAnyKeys(typed) {
			if err := encodeXMLElement(buffer, key, typed[key]); err != nil {
				return err
			}
		}

		buffer.WriteString("</" + name + ">")
	case []any:
		buffer.WriteString(`<` + name + ` type="array">`)

		singular := flect.Singularize(name)
		for _, element := range typed {
			if err := encodeXMLElement(buffer, singular, element); err != nil {
				return err
			}
		}

		buffer.WriteString("</" + name + ">")
	case nil:
		buffer.WriteString("<" + name + "/>")
	default:
		buffer.WriteString("<" + name + ">")

		if err := xml.EscapeText(buffer, []byte(fmt.Sprint(typed))); err != nil {
			return fmt.Errorf("encoding XML text: %w", err)
		}

		buffer.WriteString("</" + name + ">")
	}

	return nil
}

// Decode implements Format.
func (f *XMLFormat) Decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(body))

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding XML: %w", err)
		}

		if start, ok := token.(xml.StartElement); ok {
			value, err := decodeXMLElement(decoder, start)
			if err != nil {
				return nil, fmt.Errorf("decoding XML: %w", err)
			}

			return map[string]any{start.Name.Local: value}, nil
		}
	}
}

// MimeType implements Format.
func (*XMLFormat) MimeType() string { return "application/xml" }

// Extension implements Format.
func (*XMLFormat) Extension() string { return "xml" }

type xmlChild struct {
	name  string
	value any
}

func decodeXMLElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	var (
		children []xmlChild
		text     strings.Builder
	)

	isArray := false

	for _, attr := range start.Attr {
		if attr.Name.Local == "type" && attr.Value == "array" {
			isArray = true
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch typed := token.(type) {
		case xml.StartElement:
			value, err := decodeXMLElement(decoder, typed)
			if err != nil {
				return nil, err
			}

			children = append(children, xmlChild{name: typed.Name.Local, value: value})
		case xml.CharData:
			text.Write(typed)
		case xml.EndElement:
			return assembleXMLValue(start.Name.Local, children, strings.TrimSpace(text.String()), isArray), nil
		}
	}
}

func assembleXMLValue(name string, children []xmlChild, text string, isArray bool) any {
	if len(children) == 0 {
		if isArray {
			return []any{}
		}

		if text == "" {
			return nil
		}

		return text
	}

	if isArray || looksLikeCollection(name, children) {
		elements := make([]any, 0, len(children))
		for _, child := range children {
			elements = append(elements, child.value)
		}

		return elements
	}

	assembled := make(map[string]any, len(children))

	for _, child := range children {
		if existing, dup := assembled[child.name]; dup {
			if slice, isSlice := existing.([]any); isSlice {
				assembled[child.name] = append(slice, child.value)
			} else {
				assembled[child.name] = []any{existing, child.value}
			}
		} else {
			assembled[child.name] = child.value
		}
	}

	return assembled
}

// looksLikeCollection reports whether an element's children read as a list:
// more than one child all sharing a name, or a single child named with the
// singular of the parent.
func looksLikeCollection(name string, children []xmlChild) bool {
	first := children[0].name
	for _, child := range children {
		if child.name != first {
			return false
		}
	}

	if len(children) > 1 {
		return true
	}

	return flect.Singularize(name) == first && name != first
}

func sortedAnyKeys(value map[string]any) []string {
	keys := make([]string, 0, len(value))
	for key := range value {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
