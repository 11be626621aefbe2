package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF5E in UTF-16 but after it in UTF-8.
	v := map[string]any{
		"\uFF5E":     1,
		"\U0001F600": 2,
		"b":          3,
		"a":          4,
	}
	got, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":4,\"b\":3,\"\U0001F600\":2,\"\uFF5E\":1}", string(got))
}

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null"},
		{"true", true, "true"},
		{"int", 42, "42"},
		{"integral float", 2.0, "2"},
		{"fraction", 1.5, "1.5"},
		{"negative", -0.25, "-0.25"},
		{"json number", json.Number("10.0"), "10"},
		{"large", 1e21, "1e+21"},
		{"small", 1e-7, "1e-7"},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"line separator literal", "x\u2028y", "\"x\u2028y\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_NormalizesNFC(t *testing.T) {
	// "e" + combining acute accent composes to U+00E9.
	got, err := Marshal("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshal_StructUsesJSONTags(t *testing.T) {
	type inner struct {
		Goal float64 `json:"goal"`
		Type string  `json:"type"`
	}
	got, err := Marshal(inner{Goal: 3, Type: "foreground"})
	require.NoError(t, err)
	assert.Equal(t, `{"goal":3,"type":"foreground"}`, string(got))
}

func TestMarshal_RawMessageIsReordered(t *testing.T) {
	got, err := Marshal(json.RawMessage(`{ "z": [1, 2.50], "a": {"y": null, "x": "v"} }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":"v","y":null},"z":[1,2.5]}`, string(got))
}

func TestHash_IsOrderIndependent(t *testing.T) {
	a, err := Hash(json.RawMessage(`{"type":"foreground","goal":1}`))
	require.NoError(t, err)
	b, err := Hash(map[string]any{"goal": 1, "type": "foreground"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, SHA256Hex([]byte(`{"goal":1,"type":"foreground"}`)), a)
}

func TestFingerprint_DomainSeparated(t *testing.T) {
	v := map[string]any{"id": "s1"}
	plain, err := Hash(v)
	require.NoError(t, err)
	fp, err := Fingerprint(DomainSchedule, v)
	require.NoError(t, err)

	assert.NotEqual(t, plain, fp)

	again, err := Fingerprint(DomainSchedule, map[string]any{"id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, fp, again)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "100", FormatNumber(100))
	assert.Equal(t, "0.000001", FormatNumber(1e-6))
	assert.Equal(t, "1.5e-7", FormatNumber(1.5e-7))
}
