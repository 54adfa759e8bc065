package typehash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString_KnownVectors(t *testing.T) {
	// Reference FNV-1a 64 vectors.
	require.Equal(t, uint64(0xcbf29ce484222325), String(""))
	require.Equal(t, uint64(0xaf63dc4c8601ec8c), String("a"))
	require.Equal(t, uint64(0x85944171f73967e8), String("foobar"))
}

func TestCombine_OrderSensitive(t *testing.T) {
	seed := String("Translation")
	a := Combine(seed, Int(1), Int(2))
	b := Combine(seed, Int(2), Int(1))
	require.NotEqual(t, a, b)
	require.Equal(t, a, Combine(Combine(seed, Int(1)), Int(2)))
}

func TestBool(t *testing.T) {
	require.Equal(t, Int(1), Bool(true))
	require.Equal(t, Int(0), Bool(false))
}
