package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/template"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// SourcePrefix marks store instances registered from Lua.
const SourcePrefix = "lua:"

// Engine wraps a single gopher-lua VM that runs template scripts.
// Single-goroutine access only.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	current   string // script being loaded
	templates []scripted
}

type scripted struct {
	source string
	meta   *template.Metadata
}

// NewEngine creates a Lua engine and loads every script in scriptsDir.
// Scripts call ghost{...} to declare templates.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("ghost", vm.NewFunction(e.luaGhost))

	if scriptsDir == "" {
		return e, nil
	}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load template scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.DoFile(path); err != nil {
			return err
		}
	}
	return nil
}

// DoFile runs one script.
func (e *Engine) DoFile(path string) error {
	e.current = path
	defer func() { e.current = "" }()
	before := len(e.templates)
	if err := e.vm.DoFile(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	e.log.Debug("loaded lua script",
		zap.String("file", path),
		zap.Int("templates", len(e.templates)-before))
	return nil
}

// DoString runs a chunk of Lua; used by tests and the dump tool.
func (e *Engine) DoString(src string) error {
	e.current = "inline"
	defer func() { e.current = "" }()
	return e.vm.DoString(src)
}

// Templates returns the declared templates in declaration order.
func (e *Engine) Templates() []*template.Metadata {
	out := make([]*template.Metadata, len(e.templates))
	for i, s := range e.templates {
		out[i] = s.meta
	}
	return out
}

// Register adds every declared template to the store. Script templates live
// for the whole process. A ghost type already provided by a file template is
// reported; both instances stay candidates.
func (e *Engine) Register(store *template.Store) int {
	existing := make(map[ghost.Type]string)
	for _, inst := range store.Instances() {
		if _, ok := existing[inst.Meta.Type]; !ok {
			existing[inst.Meta.Type] = inst.Source
		}
	}
	for _, s := range e.templates {
		if src, dup := existing[s.meta.Type]; dup {
			e.log.Warn("ghost type defined by both a script and a template file",
				zap.String("ghost", s.meta.Name),
				zap.String("type", s.meta.Type.String()),
				zap.String("script", s.source),
				zap.String("file", src))
		}
		store.Add(s.meta, SourcePrefix+s.source)
	}
	return len(e.templates)
}

// luaGhost implements ghost{name=..., fields={...}}. It returns the ghost
// type id as a string.
func (e *Engine) luaGhost(L *lua.LState) int {
	t := L.CheckTable(1)
	spec, err := specFromTable(t)
	if err == nil {
		var meta *template.Metadata
		meta, err = template.Build(spec)
		if err == nil {
			e.templates = append(e.templates, scripted{source: e.current, meta: meta})
			L.Push(lua.LString(meta.Type.String()))
			return 1
		}
	}
	L.RaiseError("ghost: %v", err)
	return 0
}

func specFromTable(t *lua.LTable) (template.Spec, error) {
	s := template.Spec{
		Name:               lStr(t, "name"),
		ID:                 lStr(t, "id"),
		Group:              lua.LVAsBool(t.RawGetString("group")),
		StaticOptimization: lua.LVAsBool(t.RawGetString("static_optimization")),
		Importance:         lInt(t, "importance"),
		MaxSendRateTicks:   lInt(t, "max_send_rate_ticks"),
		SubObjects:         lInt(t, "sub_objects"),
	}
	if v := lStr(t, "default_mode"); v != "" {
		if err := s.DefaultMode.UnmarshalText([]byte(v)); err != nil {
			return s, err
		}
	}
	if v := lStr(t, "supported_modes"); v != "" {
		if err := s.SupportedModes.UnmarshalText([]byte(v)); err != nil {
			return s, err
		}
	}

	fields, ok := t.RawGetString("fields").(*lua.LTable)
	if !ok {
		return s, nil
	}
	var ferr error
	fields.ForEach(func(_, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok || ferr != nil {
			return
		}
		f := template.FieldSpec{
			Child:       lInt(row, "child"),
			Type:        lStr(row, "type"),
			StableHash:  lUint64(row, "stable_hash"),
			Variant:     lStr(row, "variant"),
			VariantHash: lUint64(row, "variant_hash"),
			SendMask:    lStr(row, "send_mask"),
		}
		if p := lStr(row, "prefab_type"); p != "" {
			if err := f.PrefabType.UnmarshalText([]byte(p)); err != nil {
				ferr = err
				return
			}
		}
		s.Fields = append(s.Fields, f)
	})
	return s, ferr
}

// Names lists the declared ghost names, sorted; used for the banner.
func (e *Engine) Names() []string {
	names := make([]string, len(e.templates))
	for i, s := range e.templates {
		names[i] = s.meta.Name
	}
	sort.Strings(names)
	return names
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// lUint64 reads a hash given either as a number or as a hex string.
func lUint64(t *lua.LTable, key string) uint64 {
	switch v := t.RawGetString(key).(type) {
	case lua.LNumber:
		return uint64(v)
	case lua.LString:
		if h, err := strconv.ParseUint(string(v), 0, 64); err == nil {
			return h
		}
	}
	return 0
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
