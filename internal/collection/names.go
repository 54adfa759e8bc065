package collection

import (
	"strconv"
	"strings"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/schema"
)

type pendingName struct {
	ghost      int
	child      int
	descriptor int
}

// Names is the diagnostic name list: one entry per activated ghost type and
// one per named prediction error slot. Both lists are append-only within a
// session. Error names are resolved at the end of the tick that activated
// their ghost.
type Names struct {
	ghosts     []string
	errors     []string
	errorSlots int
	pending    []pendingName
	changed    bool
}

func newNames() *Names { return &Names{} }

// addGhost records an activated schema and queues its error names.
func (n *Names) addGhost(s *schema.Schema) {
	idx := len(n.ghosts)
	n.ghosts = append(n.ghosts, s.Name)
	for _, f := range s.Fields {
		if f.PredictionErrorCount > 0 {
			n.pending = append(n.pending, pendingName{ghost: idx, child: f.SubObject, descriptor: f.Descriptor})
		}
	}
	n.errorSlots += s.PredictionErrorCount
	n.changed = true
}

// flush appends the queued error names. It reports whether either list grew
// since the last flush.
func (n *Names) flush(table *catalogue.Table) bool {
	for _, p := range n.pending {
		d := table.At(p.descriptor)
		for _, errName := range d.ErrorNames {
			n.errors = append(n.errors, errorName(n.ghosts[p.ghost], p.child, d.TypeName, errName))
		}
	}
	n.pending = n.pending[:0]
	changed := n.changed
	n.changed = false
	return changed
}

// abort drops queued names after a fatal fault.
func (n *Names) abort() {
	n.pending = n.pending[:0]
	n.changed = true
}

func (n *Names) reset() {
	n.ghosts = nil
	n.errors = nil
	n.errorSlots = 0
	n.pending = nil
	n.changed = true
}

// errorName renders "Ghost.Type.error", with "[child]" after the ghost name
// for fields on a child.
func errorName(ghostName string, child int, typeName, errName string) string {
	var b strings.Builder
	b.WriteString(ghostName)
	if child != 0 {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(child))
		b.WriteByte(']')
	}
	b.WriteByte('.')
	b.WriteString(typeName)
	b.WriteByte('.')
	b.WriteString(errName)
	return b.String()
}
