// Package ghost defines the identifiers and policy enums shared by the
// catalogue, the templates and the compiled schemas.
package ghost

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Type is the 128-bit logical type identifier of a networked object. It is
// derived from a stable content id of the authored template and is the key
// both peers use for "the same kind of ghost".
type Type struct {
	Hi uint64
	Lo uint64
}

// IsZero reports whether t is the unassigned type.
func (t Type) IsZero() bool { return t.Hi == 0 && t.Lo == 0 }

// String renders t as 32 lowercase hex digits.
func (t Type) String() string {
	b := t.Bytes()
	return hex.EncodeToString(b[:])
}

// Bytes returns the big-endian 16-byte form used on the wire.
func (t Type) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], t.Hi)
	binary.BigEndian.PutUint64(b[8:16], t.Lo)
	return b
}

// Less orders types by (Hi, Lo).
func (t Type) Less(o Type) bool {
	if t.Hi != o.Hi {
		return t.Hi < o.Hi
	}
	return t.Lo < o.Lo
}

// TypeFromBytes is the inverse of Bytes.
func TypeFromBytes(b [16]byte) Type {
	return Type{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// ParseType accepts a GUID in any form uuid.Parse understands (including the
// bare 32 hex digit form authoring tools emit).
func ParseType(s string) (Type, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return Type{}, fmt.Errorf("parse ghost type %q: %w", s, err)
	}
	return TypeFromBytes(u), nil
}

// DeriveType hashes an arbitrary content id to 128 bits. Used when a
// template is identified by a path or asset key rather than a GUID.
func DeriveType(contentID string) Type {
	h, _ := blake2b.New(16, nil) // size 16 with no key never fails
	h.Write([]byte(contentID))
	var b [16]byte
	copy(b[:], h.Sum(nil))
	return TypeFromBytes(b)
}

// ResolveType parses id as a GUID and falls back to DeriveType.
func ResolveType(id string) Type {
	if t, err := ParseType(id); err == nil {
		return t
	}
	return DeriveType(id)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
