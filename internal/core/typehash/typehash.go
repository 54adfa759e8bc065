package typehash

import (
	"encoding/binary"
	"hash/fnv"
)

// FNV-1a 64 prime. Combine folds whole 64-bit words with it so both peers
// derive identical chains from identical inputs.
const prime64 uint64 = 1099511628211

// FNV1A64 hashes raw bytes.
func FNV1A64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// String hashes the UTF-8 bytes of s.
func String(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Int hashes the little-endian 4-byte encoding of v.
func Int(v int) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
	return FNV1A64(b[:])
}

// Bool hashes true as Int(1) and false as Int(0).
func Bool(v bool) uint64 {
	if v {
		return Int(1)
	}
	return Int(0)
}

// Combine folds each value into hash in order.
func Combine(hash uint64, values ...uint64) uint64 {
	for _, v := range values {
		hash ^= v
		hash *= prime64
	}
	return hash
}
