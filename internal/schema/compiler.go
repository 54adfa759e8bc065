package schema

import (
	"fmt"
	"sort"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/core/typehash"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/template"
	"go.uber.org/zap"
)

// Compiler turns template metadata into schemas. It only reads the catalogue
// and holds no per-template state, so one Compiler serves a whole session.
type Compiler struct {
	table *catalogue.Table
	log   *zap.Logger
}

func NewCompiler(table *catalogue.Table, log *zap.Logger) *Compiler {
	return &Compiler{table: table, log: log}
}

// Table returns the catalogue the compiler resolves against.
func (c *Compiler) Table() *catalogue.Table { return c.table }

// Compile lays out m against the finalized catalogue. Field problems are
// recorded as warnings and never abort compilation; structural problems of
// the template itself return a *CompileError.
func (c *Compiler) Compile(m *template.Metadata) (*Schema, error) {
	name := template.CanonicalName(m.Name)
	fail := func(err error) (*Schema, error) {
		return nil, &CompileError{Template: m.Name, Type: m.Type, Err: err}
	}
	if name == "" {
		return fail(ErrEmptyName)
	}
	if !m.SupportedModes.Allows(m.DefaultMode) {
		return fail(fmt.Errorf("%w: %s with %s", ErrUnsupportedDefaultMode, m.DefaultMode, m.SupportedModes))
	}
	if !c.table.Finalized() {
		return fail(catalogue.ErrNotFinalized)
	}
	ownerHash, hasOwnerType := c.table.OwnerStableHash()

	s := &Schema{
		Name:                 name,
		Type:                 m.Type,
		OwnerFieldByteOffset: -1,
		OwnerPredicted:       m.DefaultMode == ghost.ModeOwnerPredicted,
		DefaultMode:          m.DefaultMode,
		SupportedModes:       m.SupportedModes,
		IsGroup:              m.IsGroup,
		StaticOptimization:   m.StaticOptimization,
		Importance:           m.Importance,
		MaxSendRateTicks:     m.MaxSendRateTicks,
	}
	subObjects := m.SubObjects
	if subObjects <= 0 {
		subObjects = 1
	}

	hash := typehash.String(name)
	dataBytes := 0
	ownerData := -1

	for _, i := range fieldOrder(m) {
		f := &m.Fields[i]
		log := c.log.With(zap.String("ghost", name), zap.Int("child", f.SubObject), zap.String("field", fieldLabel(f)))

		if f.SubObject < 0 || f.SubObject >= subObjects {
			s.Warnings = append(s.Warnings, Warning{Kind: WarnUnsupportedShape, Field: i, SubObject: f.SubObject, StableHash: f.StableHash})
			log.Warn("field refers to a missing sub-object, dropped", zap.Int("sub_objects", subObjects))
			continue
		}
		isRoot := f.SubObject == 0

		idx, res, err := c.table.Resolve(f.StableHash, f.VariantOverride, isRoot)
		if err != nil {
			return fail(err)
		}
		switch res {
		case catalogue.Unknown:
			// Not every component replicates.
			log.Debug("no serializer for field type")
			continue
		case catalogue.ResolvedStale:
			s.Warnings = append(s.Warnings, Warning{Kind: WarnStaleVariant, Field: i, SubObject: f.SubObject, StableHash: f.StableHash, Variant: f.VariantOverride})
			log.Warn("variant override not in catalogue, using default",
				zap.String("variant", fmt.Sprintf("%#x", f.VariantOverride)),
				zap.String("default", c.table.At(idx).VariantName))
		}
		d := c.table.At(idx)

		if !d.Serialized() {
			log.Debug("variant is not serialized", zap.String("variant", d.VariantName))
			continue
		}
		if !isRoot && !d.SendForChildren {
			continue
		}
		mask := d.SendMask
		if f.HasSendMaskOverride {
			mask = f.SendMaskOverride
		}
		if mask == ghost.SendNone {
			continue
		}
		if m.SupportedModes == ghost.SupportInterpolatedOnly && mask&ghost.SendInterpolatedOnly == 0 {
			continue
		}
		if m.SupportedModes == ghost.SupportPredictedOnly && mask&ghost.SendPredictedOnly == 0 {
			continue
		}
		if !d.HasFields() && !d.Buffer {
			continue
		}

		if hasOwnerType && isRoot && ownerData < 0 && d.StableHash == ownerHash {
			ownerData = dataBytes
		}

		field := Field{
			Descriptor:           idx,
			TypeName:             d.TypeName,
			SubObject:            f.SubObject,
			Declared:             i,
			Offset:               dataBytes,
			MaskBitStart:         s.ChangeMaskBits,
			Buffer:               d.Buffer,
			EnableBit:            d.EnableBit,
			SendMask:             mask,
			SendToOwner:          d.SendToOwner,
			PrefabType:           f.PrefabType,
			PredictionErrorBase:  s.PredictionErrorCount,
			PredictionErrorCount: d.PredictionErrors,
		}
		if d.Buffer {
			field.Size = Align(BufferSlotBytes)
			field.MaskBits = BufferMaskBits
			s.BufferCount++
			if elem := Align(d.SnapshotSize); elem > s.MaxBufferRecordBytes {
				s.MaxBufferRecordBytes = elem
			}
		} else {
			field.Size = Align(d.SnapshotSize)
			field.MaskBits = d.ChangeMaskBits
		}

		dataBytes += field.Size
		s.ChangeMaskBits += field.MaskBits
		s.PredictionErrorCount += d.PredictionErrors
		if d.EnableBit {
			s.EnableBits++
		}
		if mask != ghost.SendAll {
			s.PartialSendMask = true
		}
		if d.SendToOwner != ghost.SendToAll {
			s.PartialSendToOwner = true
		}
		if !isRoot {
			s.ChildFieldCount++
		}

		fieldHash := typehash.Combine(d.SerializerHash, typehash.Int(int(mask)))
		fieldHash = typehash.Combine(fieldHash, d.VariantHash, typehash.Int(f.SubObject))
		hash = typehash.Combine(hash, fieldHash)

		s.Fields = append(s.Fields, field)
	}

	header := HeaderBytes(s.ChangeMaskBits, s.EnableBits)
	for i := range s.Fields {
		s.Fields[i].Offset += header
	}
	s.SnapshotRecordBytes = header + dataBytes
	s.FieldCount = len(s.Fields)
	if ownerData >= 0 {
		s.OwnerFieldByteOffset = int32(header + ownerData)
	}
	if s.OwnerPredicted && !s.HasOwner() {
		return fail(ErrMissingOwnerField)
	}

	s.TypeHash = hashTotals(hash, s)
	return s, nil
}

// hashTotals folds the layout totals into the per-field hash. The global
// first field index is left out so the hash does not depend on load order.
func hashTotals(hash uint64, s *Schema) uint64 {
	return typehash.Combine(hash,
		typehash.Int(s.FieldCount),
		typehash.Int(s.ChildFieldCount),
		typehash.Int(s.SnapshotRecordBytes),
		typehash.Int(s.ChangeMaskBits),
		typehash.Int(int(s.OwnerFieldByteOffset)),
		typehash.Bool(s.OwnerPredicted),
		typehash.Bool(s.IsGroup),
		typehash.Int(s.EnableBits),
	)
}

// fieldOrder returns the field indices sorted by sub-object, keeping
// declaration order within a sub-object.
func fieldOrder(m *template.Metadata) []int {
	order := make([]int, len(m.Fields))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return m.Fields[order[a]].SubObject < m.Fields[order[b]].SubObject
	})
	return order
}

func fieldLabel(f *template.Field) string {
	if f.TypeName != "" {
		return f.TypeName
	}
	return fmt.Sprintf("%#x", f.StableHash)
}
