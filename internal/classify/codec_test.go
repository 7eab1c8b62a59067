package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFor("json"))
	assert.Equal(t, FormatYAML, FormatFor("yml"))
	assert.Equal(t, FormatTOML, FormatFor("toml"))
	assert.Equal(t, FormatText, FormatFor("md"))
	assert.Equal(t, FormatUnknown, FormatFor("exe"))
	assert.Equal(t, FormatUnknown, FormatFor(""))
}

func TestDecodeJSON(t *testing.T) {
	v, err := Decode(FormatJSON, "x.json", []byte(`{"a": [1, 2]}`))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{float64(1), float64(2)}, m["a"])

	_, err = Decode(FormatJSON, "x.json", []byte(`{"a":`))
	assert.Error(t, err)
}

func TestDecodeYAMLNormalizesKeys(t *testing.T) {
	v, err := Decode(FormatYAML, "x.yaml", []byte("server:\n  port: 8080\n"))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	server, ok := m["server"].(map[string]any)
	require.True(t, ok, "nested mappings must normalize to map[string]any")
	assert.NotNil(t, server["port"])
}

func TestDecodeTOML(t *testing.T) {
	v, err := Decode(FormatTOML, "x.toml", []byte("timeout = 30\n"))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, m["timeout"])
}

func TestDecodeTextRejectsInvalidUTF8(t *testing.T) {
	v, err := Decode(FormatText, "x.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = Decode(FormatText, "x.txt", []byte{0xff, 0xfe})
	assert.Error(t, err)
}

func TestEncodeJSONIsStable(t *testing.T) {
	v := map[string]any{"b": 2, "a": "<tag>"}
	out, err := Encode(FormatJSON, v)
	require.NoError(t, err)

	// Two-space indent, unescaped HTML, trailing newline, sorted keys.
	assert.Equal(t, "{\n  \"a\": \"<tag>\",\n  \"b\": 2\n}\n", string(out))

	again, err := Encode(FormatJSON, v)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestEncodeTextRequiresString(t *testing.T) {
	out, err := Encode(FormatText, "body")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), out)

	_, err = Encode(FormatText, 42)
	assert.Error(t, err)
}

func TestEncodeUnknownFormatFails(t *testing.T) {
	_, err := Encode(FormatUnknown, map[string]any{})
	assert.Error(t, err)
}
