// schemadump compiles a catalogue and a template set the way a server node
// does and prints the resulting ghost type table: slot, name, type id,
// layout sizes and the type hash each client must reproduce.
//
// Usage:
//
//	go run ./cmd/schemadump -catalogue data/catalogue -templates data/templates
//	go run ./cmd/schemadump -format yaml -fields > ghosts.yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/l1jgo/ghostreg/internal/scripting"
	"github.com/l1jgo/ghostreg/internal/template"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// standalone keeps the loop in game with nobody connected.
type standalone struct{}

func (standalone) InGame() bool                                     { return true }
func (standalone) Loading() bool                                    { return false }
func (standalone) Connections() []uint64                            { return nil }
func (standalone) RequestDisconnect(uint64, ghost.DisconnectReason) {}

type fieldOut struct {
	Type         string `yaml:"type"`
	SubObject    int    `yaml:"sub_object"`
	Offset       int    `yaml:"offset"`
	Size         int    `yaml:"size"`
	MaskBitStart int    `yaml:"mask_bit_start"`
	MaskBits     int    `yaml:"mask_bits"`
	SendMask     string `yaml:"send_mask"`
	PrefabType   string `yaml:"prefab_type"`
}

type ghostOut struct {
	Index       int        `yaml:"index"`
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type"`
	Hash        string     `yaml:"hash"`
	RecordBytes int        `yaml:"record_bytes"`
	MaskBits    int        `yaml:"change_mask_bits"`
	FieldCount  int        `yaml:"field_count"`
	FirstField  int        `yaml:"first_field"`
	Mode        string     `yaml:"default_mode"`
	Warnings    int        `yaml:"warnings,omitempty"`
	Fields      []fieldOut `yaml:"fields,omitempty"`
}

func main() {
	cataloguePaths := flag.String("catalogue", "data/catalogue", "comma separated catalogue files or directories")
	templatesDir := flag.String("templates", "data/templates", "template directory")
	scriptsDir := flag.String("scripts", "scripts", "Lua template script directory")
	format := flag.String("format", "table", "output format: table or yaml")
	withFields := flag.Bool("fields", false, "include per-field layout")
	verbose := flag.Bool("v", false, "log compiler diagnostics to stderr")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fatal(err)
		}
		log = l
	}

	ghosts, err := compileAll(strings.Split(*cataloguePaths, ","), *templatesDir, *scriptsDir, *withFields, log)
	if err != nil {
		fatal(err)
	}

	switch *format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]ghostOut{"ghosts": ghosts}); err != nil {
			fatal(err)
		}
		enc.Close()
	case "table":
		writeTable(os.Stdout, ghosts, *withFields)
	default:
		fatal(fmt.Errorf("unknown format %q", *format))
	}
}

func compileAll(paths []string, templatesDir, scriptsDir string, withFields bool, log *zap.Logger) ([]ghostOut, error) {
	files, err := catalogue.ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	table, err := catalogue.LoadFiles(files, log)
	if err != nil {
		return nil, err
	}

	store := template.NewStore()
	if _, err := template.LoadDir(templatesDir, store); err != nil {
		return nil, err
	}
	engine, err := scripting.NewEngine(scriptsDir, log)
	if err != nil {
		return nil, err
	}
	defer engine.Close()
	engine.Register(store)

	reg := collection.NewRegistry(ghost.RoleServer, schema.NewCompiler(table, log), log)
	loop := collection.NewLoop(table, reg, store, standalone{}, event.NewBus(), log, collection.Options{})
	if err := loop.Prepare(); err != nil {
		return nil, err
	}
	loop.Tick()
	if loop.State() != collection.StateActive {
		return nil, fmt.Errorf("template set failed to compile (state %s); rerun with -v", loop.State())
	}

	var out []ghostOut
	for i := 0; i < reg.Len(); i++ {
		e := reg.At(i)
		if e.Schema == nil {
			continue
		}
		s := e.Schema
		g := ghostOut{
			Index:       e.Index,
			Name:        e.Name,
			Type:        e.Type.String(),
			Hash:        fmt.Sprintf("0x%016x", s.TypeHash),
			RecordBytes: s.SnapshotRecordBytes,
			MaskBits:    s.ChangeMaskBits,
			FieldCount:  s.FieldCount,
			FirstField:  s.FirstFieldIndex,
			Mode:        s.DefaultMode.String(),
			Warnings:    len(s.Warnings),
		}
		if withFields {
			for _, f := range s.Fields {
				g.Fields = append(g.Fields, fieldOut{
					Type:         f.TypeName,
					SubObject:    f.SubObject,
					Offset:       f.Offset,
					Size:         f.Size,
					MaskBitStart: f.MaskBitStart,
					MaskBits:     f.MaskBits,
					SendMask:     f.SendMask.String(),
					PrefabType:   f.PrefabType.String(),
				})
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func writeTable(w io.Writer, ghosts []ghostOut, withFields bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tNAME\tTYPE\tHASH\tBYTES\tMASK\tFIELDS\tMODE\tWARN")
	for _, g := range ghosts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%d\n",
			g.Index, g.Name, g.Type, g.Hash, g.RecordBytes, g.MaskBits, g.FieldCount, g.Mode, g.Warnings)
		if !withFields {
			continue
		}
		for _, f := range g.Fields {
			fmt.Fprintf(tw, "\t  %s[%d]\t@%d+%d\tbits %d+%d\t\t\t\t%s\t%s\n",
				f.Type, f.SubObject, f.Offset, f.Size, f.MaskBitStart, f.MaskBits, f.SendMask, f.PrefabType)
		}
	}
	tw.Flush()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "schemadump: %v\n", err)
	os.Exit(1)
}
