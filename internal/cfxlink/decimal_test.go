package cfxlink

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeComponent_Zero(t *testing.T) {
	var m, err = encodeComponent(0)
	require.NoError(t, err)
	assert.Equal(t, componentMantissa{}, m)
	assert.Equal(t, float64(0), m.value())

	var intByte, frac, sig, expByte = encodeComponentBytes(m, false)
	assert.Equal(t, byte(0x00), intByte)
	assert.Equal(t, [7]byte{}, frac)
	assert.Equal(t, byte(0x01), sig) // expSignIsPositive bit set, isComplex/isNegative clear
	assert.Equal(t, byte(0x00), expByte)
}

func TestEncodeComponent_ExponentOutOfRange(t *testing.T) {
	var _, err = encodeComponent(1e120)
	require.Error(t, err)
	assert.IsType(t, &ExponentOutOfRangeError{}, err)

	_, err = encodeComponent(1e-120)
	require.Error(t, err)
	assert.IsType(t, &ExponentOutOfRangeError{}, err)
}

func TestComponentRoundTrip_KnownValues(t *testing.T) {
	var cases = []float64{1, -1, 3.14159, -0.0001, 123456789, -987654321.5, 2.5e50, -2.5e-50}
	for _, v := range cases {
		var m, err = encodeComponent(v)
		require.NoError(t, err)
		var intByte, frac, sig, expByte = encodeComponentBytes(m, false)
		var got, isComplex, decErr = decodeComponentBytes(intByte, frac, sig, expByte)
		require.NoError(t, decErr)
		assert.False(t, isComplex)
		assert.InEpsilonf(t, v, got, 1e-13, "round trip of %v got %v", v, got)
	}
}

func TestComponentRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var exp = rapid.IntRange(-90, 90).Draw(t, "exp")
		var mantissa = rapid.Float64Range(1, 9.999999999999).Draw(t, "mantissa")
		var negative = rapid.Bool().Draw(t, "negative")

		var v = mantissa * math.Pow(10, float64(exp))
		if negative {
			v = -v
		}

		var m, err = encodeComponent(v)
		require.NoError(t, err)

		var intByte, frac, sig, expByte = encodeComponentBytes(m, false)
		var got, isComplex, decErr = decodeComponentBytes(intByte, frac, sig, expByte)
		require.NoError(t, decErr)
		assert.False(t, isComplex)
		assert.InEpsilonf(t, v, got, 1e-12, "round trip of %v got %v", v, got)
	})
}

func TestSignInfoByte_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s = signInfo{
			isComplex:         rapid.Bool().Draw(t, "complex"),
			isNegative:        rapid.Bool().Draw(t, "negative"),
			expSignIsPositive: rapid.Bool().Draw(t, "expSign"),
		}
		var b = encodeSignInfoByte(s)
		var got = decodeSignInfoByte(b)
		assert.Equal(t, s, got)
	})
}
