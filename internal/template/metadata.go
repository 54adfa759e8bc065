// Package template holds authored ghost templates: their immutable metadata
// and the store of concrete instances that come and go at runtime.
package template

import (
	"github.com/l1jgo/ghostreg/internal/core/handle"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"golang.org/x/text/unicode/norm"
)

// Field is one declared field occurrence in a template.
type Field struct {
	SubObject  int
	StableHash uint64
	TypeName   string // diagnostics only; StableHash is authoritative
	// VariantOverride selects a catalogue variant; zero means the default.
	VariantOverride uint64
	PrefabType      ghost.PrefabType
	// SendMaskOverride replaces the catalogue send mask when HasSendMaskOverride.
	SendMaskOverride    ghost.SendMask
	HasSendMaskOverride bool
}

// Metadata is the baked, immutable description of a ghost template.
type Metadata struct {
	Name string
	Type ghost.Type

	DefaultMode        ghost.Mode
	SupportedModes     ghost.SupportedModes
	IsGroup            bool
	StaticOptimization bool
	Importance         int
	MaxSendRateTicks   int

	// SubObjects counts the root plus every child; fields refer to them by
	// index, 0 being the root.
	SubObjects int
	Fields     []Field
}

// CanonicalName returns the NFC form of a ghost name. Names seed the type
// hash, so peers must agree on their byte form.
func CanonicalName(name string) string {
	return norm.NFC.String(name)
}

// Instance is one concrete, loaded template. Several instances may share a
// ghost type (the same prefab streamed in twice).
type Instance struct {
	Handle  handle.Handle
	Ordinal uint64 // discovery order within the store
	Source  string // file path or script the instance came from
	Meta    *Metadata
}
