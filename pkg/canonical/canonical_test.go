package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAndDropsWhitespace(t *testing.T) {
	out, err := FromJSON([]byte(`{ "b": 1, "a": {"z": true, "y": [3, "x"]}, "c": null }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":[3,"x"],"z":true},"b":1}`, string(out))
}

func TestCanonicalizeIsOrderIndependent(t *testing.T) {
	a, err := FromJSON([]byte(`{"decision":"PASS","inputs":{"amount":"10","country":"US"}}`))
	require.NoError(t, err)
	b, err := FromJSON([]byte(`{"inputs":{"country":"US","amount":"10"},"decision":"PASS"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, DigestHex(a), DigestHex(b))
}

func TestCanonicalizeNormalizesUnicode(t *testing.T) {
	// "é" as a single code point and as e + combining acute.
	composed, err := Canonicalize(map[string]any{"name": "caf\u00e9"})
	require.NoError(t, err)
	decomposed, err := Canonicalize(map[string]any{"name": "cafe\u0301"})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestCanonicalizeRejectsFloats(t *testing.T) {
	_, err := FromJSON([]byte(`{"amount": 10.5}`))
	assert.ErrorIs(t, err, ErrFloatNotAllowed)

	_, err = FromJSON([]byte(`{"amount": 1e3}`))
	assert.ErrorIs(t, err, ErrFloatNotAllowed)

	_, err = Canonicalize(map[string]any{"amount": 10.0})
	assert.ErrorIs(t, err, ErrFloatNotAllowed)
}

func TestFromJSONDecimal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fraction", `{"amount": 27.5}`, `{"amount":27.5}`},
		{"trailing zeros", `{"amount": 27.50}`, `{"amount":27.5}`},
		{"exponent", `{"amount": 2.75e1}`, `{"amount":27.5}`},
		{"integral exponent", `{"amount": 1E3}`, `{"amount":1000}`},
		{"negative zero", `{"amount": -0.0}`, `{"amount":0}`},
		{"integer untouched", `{"amount": 42}`, `{"amount":42}`},
		{"nested", `{"b": [0.1, {"c": 1.25e-2}], "a": "x"}`, `{"a":"x","b":[0.1,{"c":0.0125}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := FromJSONDecimal([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestFromJSONDecimalSpellingsShareDigest(t *testing.T) {
	a, err := FromJSONDecimal([]byte(`{"amount": 27.5, "rate": 0.10}`))
	require.NoError(t, err)
	b, err := FromJSONDecimal([]byte(`{"rate": 1e-1, "amount": 275E-1}`))
	require.NoError(t, err)
	assert.Equal(t, DigestHex(a), DigestHex(b))
}

func TestFromJSONDecimalRejectsHugeExponent(t *testing.T) {
	_, err := FromJSONDecimal([]byte(`{"amount": 1e100000}`))
	assert.ErrorIs(t, err, ErrNumberOutOfRange)
}

func TestCanonicalizeIntegers(t *testing.T) {
	out, err := Canonicalize(map[string]any{"n": json.Number("-0012"), "m": int64(7), "u": uint8(3)})
	require.NoError(t, err)
	assert.Equal(t, `{"m":7,"n":-12,"u":3}`, string(out))
}

func TestCanonicalizeRejectsUnsupported(t *testing.T) {
	_, err := Canonicalize(map[int]string{1: "a"})
	assert.ErrorIs(t, err, ErrNonStringMapKey)

	_, err = Canonicalize(struct{ A string }{A: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Canonicalize(map[string]any{"e\u0301": 1, "\u00e9": 2})
	assert.ErrorIs(t, err, ErrKeyCollision)
}

func TestMarshalHonoursStructTags(t *testing.T) {
	type inputs struct {
		Country string `json:"country"`
		Amount  string `json:"amount"`
		Skip    string `json:"-"`
	}
	out, err := Marshal(inputs{Country: "US", Amount: "10", Skip: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"10","country":"US"}`, string(out))
}

func TestDigestHex(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", DigestHex(nil))
}
