package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"gopkg.in/yaml.v3"
)

type fieldYAML struct {
	Child       int              `yaml:"child"`
	Type        string           `yaml:"type"`
	StableHash  catalogue.Hash64 `yaml:"stable_hash"`
	Variant     string           `yaml:"variant"`
	VariantHash catalogue.Hash64 `yaml:"variant_hash"`
	PrefabType  ghost.PrefabType `yaml:"prefab_type"`
	SendMask    string           `yaml:"send_mask"`
}

type templateYAML struct {
	Name               string               `yaml:"name"`
	ID                 string               `yaml:"id"`
	DefaultMode        ghost.Mode           `yaml:"default_mode"`
	SupportedModes     ghost.SupportedModes `yaml:"supported_modes"`
	Group              bool                 `yaml:"group"`
	StaticOptimization bool                 `yaml:"static_optimization"`
	Importance         int                  `yaml:"importance"`
	MaxSendRateTicks   int                  `yaml:"max_send_rate_ticks"`
	SubObjects         int                  `yaml:"sub_objects"`
	Fields             []fieldYAML          `yaml:"fields"`
}

// FieldSpec is the authoring-side description of a field, shared by the
// YAML and Lua front ends.
type FieldSpec struct {
	Child       int
	Type        string
	StableHash  uint64
	Variant     string
	VariantHash uint64
	PrefabType  ghost.PrefabType
	SendMask    string
}

// Spec is the authoring-side description of a template.
type Spec struct {
	Name               string
	ID                 string
	DefaultMode        ghost.Mode
	SupportedModes     ghost.SupportedModes
	Group              bool
	StaticOptimization bool
	Importance         int
	MaxSendRateTicks   int
	SubObjects         int
	Fields             []FieldSpec
}

// Build validates a spec and resolves type and variant names to hashes.
func Build(s Spec) (*Metadata, error) {
	name := CanonicalName(strings.TrimSpace(s.Name))
	if name == "" {
		return nil, fmt.Errorf("template without name")
	}
	id := s.ID
	if id == "" {
		id = name
	}
	m := &Metadata{
		Name:               name,
		Type:               ghost.ResolveType(id),
		DefaultMode:        s.DefaultMode,
		SupportedModes:     s.SupportedModes,
		IsGroup:            s.Group,
		StaticOptimization: s.StaticOptimization,
		Importance:         s.Importance,
		MaxSendRateTicks:   s.MaxSendRateTicks,
		SubObjects:         s.SubObjects,
		Fields:             make([]Field, 0, len(s.Fields)),
	}
	maxChild := 0
	for i, f := range s.Fields {
		if f.Child < 0 {
			return nil, fmt.Errorf("%s field %d: negative child index", name, i)
		}
		stable := f.StableHash
		if stable == 0 {
			if f.Type == "" {
				return nil, fmt.Errorf("%s field %d: neither type nor stable_hash", name, i)
			}
			stable = catalogue.StableHashOf(f.Type)
		}
		variant := f.VariantHash
		if variant == 0 && f.Variant != "" {
			variant = catalogue.VariantHashOf(stable, f.Variant)
		}
		field := Field{
			SubObject:       f.Child,
			StableHash:      stable,
			TypeName:        f.Type,
			VariantOverride: variant,
			PrefabType:      f.PrefabType,
		}
		if f.SendMask != "" {
			mask, err := ghost.ParseSendMask(f.SendMask)
			if err != nil {
				return nil, fmt.Errorf("%s field %d: %w", name, i, err)
			}
			field.SendMaskOverride = mask
			field.HasSendMaskOverride = true
		}
		if f.Child > maxChild {
			maxChild = f.Child
		}
		m.Fields = append(m.Fields, field)
	}
	if m.SubObjects <= 0 {
		m.SubObjects = maxChild + 1
	}
	// Fields are laid out by sub-object, then declaration order.
	sort.SliceStable(m.Fields, func(i, j int) bool {
		return m.Fields[i].SubObject < m.Fields[j].SubObject
	})
	return m, nil
}

// LoadFile reads one template YAML file.
func LoadFile(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	var y templateYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	spec := Spec{
		Name:               y.Name,
		ID:                 y.ID,
		DefaultMode:        y.DefaultMode,
		SupportedModes:     y.SupportedModes,
		Group:              y.Group,
		StaticOptimization: y.StaticOptimization,
		Importance:         y.Importance,
		MaxSendRateTicks:   y.MaxSendRateTicks,
		SubObjects:         y.SubObjects,
	}
	for _, f := range y.Fields {
		spec.Fields = append(spec.Fields, FieldSpec{
			Child:       f.Child,
			Type:        f.Type,
			StableHash:  uint64(f.StableHash),
			Variant:     f.Variant,
			VariantHash: uint64(f.VariantHash),
			PrefabType:  f.PrefabType,
			SendMask:    f.SendMask,
		})
	}
	m, err := Build(spec)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return m, nil
}

// IsTemplateFile reports whether path looks like a template file.
func IsTemplateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDir loads every template file directly under dir, in name order,
// into the store. Missing directories load nothing.
func LoadDir(dir string, store *Store) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !IsTemplateFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		m, err := LoadFile(path)
		if err != nil {
			return n, err
		}
		store.Add(m, path)
		n++
	}
	return n, nil
}
