package jsonmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Predicate {
	t.Helper()
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func TestApply_NilPredicateMatches(t *testing.T) {
	var p *Predicate
	assert.True(t, p.Apply([]byte(`{"a":1}`)))
	assert.True(t, p.Apply(nil))
}

func TestApply_FieldMatchers(t *testing.T) {
	payload := []byte(`{
		"plan": "Pro",
		"cart": {"total": 12.5, "items": ["book", "pen"]},
		"dotted.key": true
	}`)

	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"equals string", `{"key":"plan","value":{"equals":"Pro"}}`, true},
		{"equals wrong case", `{"key":"plan","value":{"equals":"pro"}}`, false},
		{"equals ignore case", `{"key":"plan","value":{"equals":"pro"},"ignore_case":true}`, true},
		{"scoped at_least", `{"scope":["cart"],"key":"total","value":{"at_least":10}}`, true},
		{"scoped at_most", `{"scope":["cart"],"key":"total","value":{"at_most":10}}`, false},
		{"range", `{"scope":["cart"],"key":"total","value":{"at_least":10,"at_most":20}}`, true},
		{"present", `{"key":"plan","value":{"is_present":true}}`, true},
		{"absent", `{"key":"missing","value":{"is_present":false}}`, true},
		{"absent but required", `{"key":"missing","value":{"is_present":true}}`, false},
		{"missing equals", `{"key":"missing","value":{"equals":1}}`, false},
		{"array contains", `{"scope":["cart"],"key":"items","value":{"array_contains":{"equals":"pen"}}}`, true},
		{"array contains at index", `{"scope":["cart"],"key":"items","value":{"array_contains":{"equals":"pen"},"index":0}}`, false},
		{"array length", `{"scope":["cart"],"key":"items","value":{"array_length":{"equals":2}}}`, true},
		{"string begins", `{"key":"plan","value":{"string_begins":"P"}}`, true},
		{"string ends ignore case", `{"key":"plan","value":{"string_ends":"RO"},"ignore_case":true}`, true},
		{"dotted key is literal", `{"key":"dotted.key","value":{"equals":true}}`, true},
		{"whole payload object", `{"value":{"is_present":true}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.doc).Apply(payload))
		})
	}
}

func TestApply_Combinators(t *testing.T) {
	payload := []byte(`{"a": 1, "b": "x"}`)

	and := mustParse(t, `{"and":[{"key":"a","value":{"equals":1}},{"key":"b","value":{"equals":"x"}}]}`)
	assert.True(t, and.Apply(payload))

	or := mustParse(t, `{"or":[{"key":"a","value":{"equals":2}},{"key":"b","value":{"equals":"x"}}]}`)
	assert.True(t, or.Apply(payload))

	not := mustParse(t, `{"not":{"key":"a","value":{"equals":1}}}`)
	assert.False(t, not.Apply(payload))

	emptyOr := mustParse(t, `{"or":[]}`)
	assert.False(t, emptyOr.Apply(payload))
}

func TestApply_ScalarPayload(t *testing.T) {
	p := mustParse(t, `{"value":{"string_begins":"1."}}`)
	assert.True(t, p.Apply([]byte(`"1.2.0"`)))
	assert.False(t, p.Apply([]byte(`"2.0.0"`)))
}

func TestParse_Invalid(t *testing.T) {
	for _, doc := range []string{
		`{}`,
		`{"and":[],"not":{"value":{"is_present":true}}}`,
		`{"key":"a","value":{}}`,
		`{"key":"a","value":{"index":1,"equals":1}}`,
		`{"and":[null]}`,
		`not json`,
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}
