package classify

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/goccy/go-yaml"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/agentstation/collate/pkg/errors"
)

// Format is the parser family a candidate file is handled with.
type Format string

const (
	// FormatJSON is parsed with encoding/json.
	FormatJSON Format = "json"
	// FormatYAML is parsed with goccy/go-yaml.
	FormatYAML Format = "yaml"
	// FormatTOML is parsed with pelletier/go-toml.
	FormatTOML Format = "toml"
	// FormatText is a structured text document (markdown, plain text).
	FormatText Format = "text"
	// FormatUnknown is anything else. Unknown content is never parsed and
	// the group is treated as opaque.
	FormatUnknown Format = "unknown"
)

// formatByExt maps lower-cased file extensions to formats.
var formatByExt = map[string]Format{
	"json":     FormatJSON,
	"yaml":     FormatYAML,
	"yml":      FormatYAML,
	"toml":     FormatTOML,
	"md":       FormatText,
	"markdown": FormatText,
	"txt":      FormatText,
}

// FormatFor returns the format for a canonical filename extension.
func FormatFor(ext string) Format {
	if f, ok := formatByExt[ext]; ok {
		return f
	}
	return FormatUnknown
}

// Structured reports whether the format has a structural parser.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatYAML || f == FormatTOML
}

// Decode parses raw content under the given format into a generic value:
// map[string]any for mappings, []any for sequences. Text formats return the
// content unchanged after a UTF-8 validity check.
func Decode(format Format, file string, raw []byte) (any, error) {
	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.WrapParse("json", file, err)
		}
		return v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, errors.WrapParse("yaml", file, err)
		}
		return normalizeYAML(v), nil
	case FormatTOML:
		var v map[string]any
		if err := toml.Unmarshal(raw, &v); err != nil {
			return nil, errors.WrapParse("toml", file, err)
		}
		return any(v), nil
	case FormatText:
		if !utf8.Valid(raw) {
			return nil, errors.NewParseError("text", file, "content is not valid UTF-8", nil)
		}
		return string(raw), nil
	default:
		return nil, errors.NewParseError(string(format), file, "no parser for format", nil)
	}
}

// Encode marshals a merged value back into the group's format. JSON is
// indented with two spaces and terminated with a newline so canonical
// artifacts diff cleanly.
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, errors.WrapParse("json", "", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return nil, errors.WrapParse("yaml", "", err)
		}
		return out, nil
	case FormatTOML:
		out, err := toml.Marshal(v)
		if err != nil {
			return nil, errors.WrapParse("toml", "", err)
		}
		return out, nil
	case FormatText:
		s, ok := v.(string)
		if !ok {
			return nil, errors.NewValidationError("content", v, "text content must be a string")
		}
		return []byte(s), nil
	default:
		return nil, errors.NewValidationError("format", format, "cannot encode unknown format")
	}
}

// normalizeYAML converts map[any]any keys produced by YAML decoding into
// map[string]any so merge logic sees one mapping representation.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				key = stringify(k)
			}
			out[key] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}

// stringify renders a non-string YAML key.
func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(bytes.Trim(b, `"`))
}
