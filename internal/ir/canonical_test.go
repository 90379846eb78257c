package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", State{"v": "hello"}, `{"v":"hello"}`},
		{"empty string", State{"v": ""}, `{"v":""}`},
		{"int", State{"v": 42}, `{"v":42}`},
		{"float", State{"v": 1.5}, `{"v":1.5}`},
		{"whole float", State{"v": 2.0}, `{"v":2}`},
		{"null", State{"v": nil}, `{"v":null}`},
		{"bool", State{"v": true}, `{"v":true}`},
		{"empty array", []any{}, "[]"},
		{"array", []any{1, "a", false}, `[1,"a",false]`},
		{"empty object", State{}, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	result, err := MarshalCanonical(State{"zebra": 1, "apple": 2, "mango": State{"b": 1, "a": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	result, err := MarshalCanonical(State{"html": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a>&</a>"}`, string(result))
}

func TestCanonicalizeIgnoresWhitespaceAndOrder(t *testing.T) {
	a, err := Canonicalize([]byte(`{ "b": [1, 2],  "a": {"y": true, "x": null} }`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"a":{"x":null,"y":true},"b":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalizeNFC(t *testing.T) {
	// "é" precomposed vs "e" + combining acute accent
	composed, err := Canonicalize([]byte("{\"name\":\"caf\u00e9\"}"))
	require.NoError(t, err)
	decomposed, err := Canonicalize([]byte("{\"name\":\"cafe\u0301\"}"))
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestCanonicalizeInvalidJSON(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestCanonicalizeRejectsTopLevelScalar(t *testing.T) {
	_, err := Canonicalize([]byte(`42`))
	assert.Error(t, err)
}

func TestDecodeState(t *testing.T) {
	s, err := DecodeState([]byte(`{"name":"X","count":3}`))
	require.NoError(t, err)
	assert.Equal(t, "X", s["name"])
	assert.Equal(t, float64(3), s["count"])

	empty, err := DecodeState(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeState([]byte(`null`))
	assert.Error(t, err)

	_, err = DecodeState([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	s, err := Normalize(payload{Name: "n", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, State{"name": "n", "count": float64(2)}, s)
}
