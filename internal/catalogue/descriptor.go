// Package catalogue holds the field serializer table: every replicable field
// type and each of its serialization variants. The table is append-only while
// it is being loaded and frozen by Finalize; schemas compiled against it stay
// valid only as long as it never changes again.
package catalogue

import (
	"strings"

	"github.com/l1jgo/ghostreg/internal/core/typehash"
	"github.com/l1jgo/ghostreg/internal/ghost"
)

// Descriptor describes one serializer variant of one field type.
type Descriptor struct {
	TypeName    string
	StableHash  uint64
	VariantName string
	VariantHash uint64
	// FieldsHash covers per-member attributes (quantization, smoothing,
	// composite) that change serialization without changing sizes.
	FieldsHash uint64

	SnapshotSize     int
	ChangeMaskBits   int
	EnableBit        bool
	SendMask         ghost.SendMask
	SendToOwner      ghost.SendToOwner
	PredictionErrors int
	// PredictionErrorNames is a comma separated list, at most
	// PredictionErrors long.
	PredictionErrorNames string

	Buffer          bool
	SendForChildren bool
	DefaultForRoot  bool
	DefaultForChild bool
	OwnershipMarker bool

	// Assigned by Finalize.
	Index          int
	SerializerHash uint64
	ErrorNames     []string
}

// HasFields reports whether the descriptor occupies snapshot space.
func (d *Descriptor) HasFields() bool {
	return d.SnapshotSize > 0 || d.ChangeMaskBits > 0
}

// Serialized reports whether the variant is ever sent.
func (d *Descriptor) Serialized() bool {
	return d.SendMask != ghost.SendNone
}

// StableHashOf is the stable hash a type name resolves to when authoring
// data does not pin one explicitly.
func StableHashOf(typeName string) uint64 {
	return typehash.String(typeName)
}

// VariantHashOf derives a variant hash from the owning type and variant name.
// The unnamed variant is called "default".
func VariantHashOf(stableHash uint64, variantName string) uint64 {
	if variantName == "" {
		variantName = "default"
	}
	return typehash.Combine(stableHash, typehash.String(variantName))
}

func (d *Descriptor) normalize() {
	if d.StableHash == 0 {
		d.StableHash = StableHashOf(d.TypeName)
	}
	if d.VariantHash == 0 {
		d.VariantHash = VariantHashOf(d.StableHash, d.VariantName)
	}
	if d.VariantName == "" {
		d.VariantName = "default"
	}
}

func (d *Descriptor) computeSerializerHash() {
	h := typehash.Combine(d.StableHash, d.VariantHash, d.FieldsHash)
	h = typehash.Combine(h,
		typehash.Int(d.SnapshotSize),
		typehash.Int(d.ChangeMaskBits),
		typehash.Int(int(d.SendToOwner)),
		typehash.Bool(d.EnableBit),
		typehash.Bool(d.Buffer),
	)
	d.SerializerHash = h
}

func (d *Descriptor) parseErrorNames() {
	d.ErrorNames = d.ErrorNames[:0]
	if d.PredictionErrorNames == "" {
		return
	}
	for _, name := range strings.Split(d.PredictionErrorNames, ",") {
		if len(d.ErrorNames) >= d.PredictionErrors {
			break
		}
		d.ErrorNames = append(d.ErrorNames, strings.TrimSpace(name))
	}
}
