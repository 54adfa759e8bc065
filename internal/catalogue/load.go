package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/l1jgo/ghostreg/internal/ghost"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Hash64 accepts decimal or 0x-prefixed hex in YAML.
type Hash64 uint64

func (h *Hash64) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 0, 64)
	if err != nil {
		return fmt.Errorf("parse hash %q: %w", string(b), err)
	}
	*h = Hash64(v)
	return nil
}

type descriptorYAML struct {
	Type             string `yaml:"type"`
	StableHash       Hash64 `yaml:"stable_hash"`
	Variant          string `yaml:"variant"`
	VariantHash      Hash64 `yaml:"variant_hash"`
	FieldsHash       Hash64 `yaml:"fields_hash"`
	SnapshotSize     int    `yaml:"snapshot_size"`
	ChangeMaskBits   int    `yaml:"change_mask_bits"`
	EnableBit        bool   `yaml:"enable_bit"`
	SendMask         string `yaml:"send_mask"`
	SendToOwner      string `yaml:"send_to_owner"`
	PredictionErrors int    `yaml:"prediction_errors"`
	ErrorNames       string `yaml:"prediction_error_names"`
	Buffer           bool   `yaml:"buffer"`
	SendForChildren  *bool  `yaml:"send_for_children"`
	DefaultRoot      bool   `yaml:"default_root"`
	DefaultChild     bool   `yaml:"default_child"`
	OwnershipMarker  bool   `yaml:"ownership_marker"`
}

type catalogueFile struct {
	Serializers []descriptorYAML `yaml:"serializers"`
}

func (y descriptorYAML) toDescriptor() (Descriptor, error) {
	if y.Type == "" {
		return Descriptor{}, fmt.Errorf("serializer without type name")
	}
	mask, err := ghost.ParseSendMask(y.SendMask)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", y.Type, err)
	}
	var owner ghost.SendToOwner
	if err := owner.UnmarshalText([]byte(y.SendToOwner)); err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", y.Type, err)
	}
	sendForChildren := true
	if y.SendForChildren != nil {
		sendForChildren = *y.SendForChildren
	}
	return Descriptor{
		TypeName:             y.Type,
		StableHash:           uint64(y.StableHash),
		VariantName:          y.Variant,
		VariantHash:          uint64(y.VariantHash),
		FieldsHash:           uint64(y.FieldsHash),
		SnapshotSize:         y.SnapshotSize,
		ChangeMaskBits:       y.ChangeMaskBits,
		EnableBit:            y.EnableBit,
		SendMask:             mask,
		SendToOwner:          owner,
		PredictionErrors:     y.PredictionErrors,
		PredictionErrorNames: y.ErrorNames,
		Buffer:               y.Buffer,
		SendForChildren:      sendForChildren,
		DefaultForRoot:       y.DefaultRoot,
		DefaultForChild:      y.DefaultChild,
		OwnershipMarker:      y.OwnershipMarker,
	}, nil
}

func parseFile(path string) ([]Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %s: %w", path, err)
	}
	var f catalogueFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	out := make([]Descriptor, 0, len(f.Serializers))
	for i, y := range f.Serializers {
		d, err := y.toDescriptor()
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ExpandPaths replaces every directory in paths with the YAML files directly
// under it, sorted by name. Plain files are kept in place.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("catalogue path %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read catalogue dir %s: %w", p, err)
		}
		var files []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}

// LoadFiles parses every catalogue file on its own goroutine and adds the
// results to a new table in path order. The table is returned unfinalized;
// the collection loop freezes it when the session starts.
func LoadFiles(paths []string, log *zap.Logger) (*Table, error) {
	parsed := make([][]Descriptor, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		g.Go(func() error {
			ds, err := parseFile(p)
			if err != nil {
				return err
			}
			parsed[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := NewTable()
	for i, ds := range parsed {
		for _, d := range ds {
			if err := t.Add(d); err != nil {
				return nil, err
			}
		}
		log.Debug("catalogue file loaded", zap.String("file", paths[i]), zap.Int("serializers", len(ds)))
	}
	return t, nil
}
