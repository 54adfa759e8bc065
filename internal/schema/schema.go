// Package schema compiles a ghost template against the finalized field
// catalogue into a packed snapshot layout and the type hash both peers
// compare before exchanging snapshots.
package schema

import (
	"errors"
	"fmt"

	"github.com/l1jgo/ghostreg/internal/ghost"
)

var (
	// ErrMissingOwnerField: an owner predicted ghost has no root ownership
	// marker field, so the wire layer could not tell who predicts it.
	ErrMissingOwnerField = errors.New("owner predicted ghost without owner field")
	// ErrUnsupportedDefaultMode: the default mode is excluded by the
	// template's supported modes.
	ErrUnsupportedDefaultMode = errors.New("default mode not in supported modes")
	// ErrEmptyName: templates are named; the name seeds the type hash.
	ErrEmptyName = errors.New("template without name")
)

// CompileError ties a compile failure to the template it came from.
type CompileError struct {
	Template string
	Type     ghost.Type
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s (%s): %v", e.Template, e.Type, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// WarningKind classifies a recoverable field-level problem.
type WarningKind uint8

const (
	// WarnStaleVariant: the override names a variant the catalogue no
	// longer has; the position default was used.
	WarnStaleVariant WarningKind = iota
	// WarnUnsupportedShape: the field refers to a sub-object the template
	// does not have; the field was dropped.
	WarnUnsupportedShape
)

func (k WarningKind) String() string {
	switch k {
	case WarnStaleVariant:
		return "stale_variant"
	case WarnUnsupportedShape:
		return "unsupported_shape"
	}
	return fmt.Sprintf("WarningKind(%d)", uint8(k))
}

// Warning is one recoverable field-level problem found while compiling.
type Warning struct {
	Kind       WarningKind
	Field      int // index into the template's field list
	SubObject  int
	StableHash uint64
	Variant    uint64
}

// Field is one retained field in a compiled layout.
type Field struct {
	Descriptor int // catalogue index
	TypeName   string
	SubObject  int
	Declared   int // index into the template's field list

	Offset       int // byte offset in the record, header included
	Size         int // aligned slot size
	MaskBitStart int
	MaskBits     int
	Buffer       bool
	EnableBit    bool

	SendMask    ghost.SendMask
	SendToOwner ghost.SendToOwner
	PrefabType  ghost.PrefabType

	// PredictionErrorBase is this field's first slot among the schema's
	// prediction error slots.
	PredictionErrorBase  int
	PredictionErrorCount int
}

// Schema is the compiled layout of one ghost type. It is immutable once
// returned by Compile, except for FirstFieldIndex which the registry sets
// when it appends the fields to its global table.
type Schema struct {
	Name string
	Type ghost.Type

	TypeHash        uint64
	FirstFieldIndex int
	FieldCount      int
	ChildFieldCount int

	SnapshotRecordBytes  int
	ChangeMaskBits       int
	EnableBits           int
	OwnerFieldByteOffset int32
	BufferCount          int
	MaxBufferRecordBytes int

	PartialSendMask    bool
	PartialSendToOwner bool
	OwnerPredicted     bool

	DefaultMode          ghost.Mode
	SupportedModes       ghost.SupportedModes
	IsGroup              bool
	StaticOptimization   bool
	PredictionErrorCount int

	// Not part of the hash.
	Importance       int
	MaxSendRateTicks int

	Fields   []Field
	Warnings []Warning
}

// HasOwner reports whether the layout carries an owner field.
func (s *Schema) HasOwner() bool { return s.OwnerFieldByteOffset >= 0 }

// Stripped returns the indices of fields removed from spawned instances on
// a world of role r simulating the ghost as mode m. Layout is unaffected.
func (s *Schema) Stripped(r ghost.Role, m ghost.Mode) []int {
	var out []int
	for i := range s.Fields {
		if !s.Fields[i].PrefabType.KeepsOn(r, m) {
			out = append(out, i)
		}
	}
	return out
}
