package canon_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/canon"
)

func TestJSON_SortsKeys(t *testing.T) {
	b, err := canon.JSON(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(b))
}

func TestJSON_NoInsignificantWhitespace(t *testing.T) {
	b, err := canon.JSON(map[string]any{"x": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, `{"x":[1,2,3]}`, string(b))
}

func TestJSON_DisablesHTMLEscaping(t *testing.T) {
	b, err := canon.JSON("a<b&c>d")
	require.NoError(t, err)
	assert.Equal(t, `"a<b&c>d"`, string(b))
}

func TestJSON_NonFiniteFloatRejected(t *testing.T) {
	_, err := canon.JSON(map[string]any{"x": math.NaN()})
	require.Error(t, err)
}

func TestJSON_LiteralsLowercase(t *testing.T) {
	b, err := canon.JSON(map[string]any{"a": true, "b": false, "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":false,"c":null}`, string(b))
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := canon.Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := canon.Hash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalJSON_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical(v) is stable under re-canonicalization", prop.ForAll(
		func(m map[string]string) bool {
			v := make(map[string]any, len(m))
			for k, val := range m {
				v[k] = val
			}
			b1, err := canon.JSON(v)
			if err != nil {
				return false
			}
			var decoded map[string]any
			if err := json.Unmarshal(b1, &decoded); err != nil {
				return false
			}
			b2, err := canon.JSON(decoded)
			if err != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}
