// Package collection owns the ghost type registry and the per-tick loop that
// keeps it in step with the template store and the remote peer: bindings,
// schema activation, hash checks and the diagnostic name lists.
package collection

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/template"
	"go.uber.org/zap"
)

// State is the session state of the loop.
type State uint8

const (
	StateIdle State = iota
	StateLoadingCatalogue
	StateActive
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingCatalogue:
		return "loading_catalogue"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Peers is the transport as seen by the loop.
type Peers interface {
	// InGame reports whether a replicated session is running.
	InGame() bool
	// Loading reports whether the session is still streaming content in.
	Loading() bool
	Connections() []uint64
	RequestDisconnect(id uint64, reason ghost.DisconnectReason)
}

// Observer receives loop measurements. metrics.Collector implements it.
type Observer interface {
	ObserveCompile(name string, took time.Duration, warnings int)
	ObserveFault(f *Fault)
	ObserveTick(v *View)
}

type nopObserver struct{}

func (nopObserver) ObserveCompile(string, time.Duration, int) {}
func (nopObserver) ObserveFault(*Fault)                       {}
func (nopObserver) ObserveTick(*View)                         {}

// Options tune the loop.
type Options struct {
	// MaxCompilesPerTick bounds schema compiles per tick; 0 means no bound.
	MaxCompilesPerTick int
	// LoadingGraceTicks keeps unresolved announced slots waiting for this
	// many ticks after the session becomes active, on top of Peers.Loading.
	LoadingGraceTicks int
}

// Loop drives the registry once per tick. It is not safe for concurrent
// use; other goroutines read the published View.
type Loop struct {
	table *catalogue.Table
	reg   *Registry
	store *template.Store
	peers Peers
	bus   *event.Bus
	obs   Observer
	log   *zap.Logger
	opts  Options

	state       State
	tick        uint64
	activeSince uint64
	finalizeErr error
	reoffer     bool
	names       *Names
	announced   []Announcement
	faults      []*Fault
	// dropped holds the connections already asked to leave while draining.
	dropped map[uint64]struct{}
	view    atomic.Pointer[View]
}

func NewLoop(table *catalogue.Table, reg *Registry, store *template.Store, peers Peers, bus *event.Bus, log *zap.Logger, opts Options) *Loop {
	l := &Loop{
		table:   table,
		reg:     reg,
		store:   store,
		peers:   peers,
		bus:     bus,
		obs:     nopObserver{},
		log:     log,
		opts:    opts,
		names:   newNames(),
		dropped: make(map[uint64]struct{}),
	}
	l.publish()
	return l
}

// SetObserver installs a measurement sink.
func (l *Loop) SetObserver(o Observer) { l.obs = o }

// State returns the current session state.
func (l *Loop) State() State { return l.state }

// Registry exposes the registry for same-goroutine readers (wire layer,
// spawn logic). It must not be mutated outside the loop.
func (l *Loop) Registry() *Registry { return l.reg }

// View returns the last published snapshot. Safe from any goroutine.
func (l *Loop) View() *View { return l.view.Load() }

// Announce queues a ghost list entry from the server for the next tick.
func (l *Loop) Announce(a Announcement) {
	l.announced = append(l.announced, a)
}

// Prepare finalizes the catalogue ahead of the first session so a broken
// catalogue fails at startup instead of on the first tick.
func (l *Loop) Prepare() error {
	if l.table.Finalized() {
		return nil
	}
	if err := l.table.Finalize(); err != nil {
		l.finalizeErr = err
		return fmt.Errorf("finalize catalogue: %w", err)
	}
	l.log.Info("catalogue finalized", zap.Int("serializers", l.table.Len()))
	return nil
}

// Tick runs one pass of the state machine.
func (l *Loop) Tick() {
	l.tick++
	defer l.publish()

	if !l.peers.InGame() {
		if l.state != StateIdle {
			l.reset()
		}
		return
	}

	switch l.state {
	case StateIdle:
		l.state = StateLoadingCatalogue
		fallthrough
	case StateLoadingCatalogue:
		if l.finalizeErr != nil {
			return
		}
		if err := l.Prepare(); err != nil {
			l.log.Error("catalogue cannot be finalized, session stays inactive", zap.Error(err))
			return
		}
		l.state = StateActive
		l.activeSince = l.tick
		l.log.Info("ghost collection active", zap.String("role", l.reg.Role().String()))
		l.active()
	case StateActive:
		l.active()
	case StateDraining:
		conns := l.peers.Connections()
		if len(conns) == 0 {
			l.reset()
			return
		}
		l.disconnect(conns)
	}
}

func (l *Loop) active() {
	l.applyStore()

	for _, a := range l.announced {
		if err := l.reg.Expect(a); err != nil {
			l.faults = append(l.faults, &Fault{Index: a.Index, Type: a.Type, Name: a.Name, Expected: a.Hash, Err: err})
		}
	}
	l.announced = l.announced[:0]

	if l.peers.Loading() || l.tick-l.activeSince < uint64(l.opts.LoadingGraceTicks) {
		l.reg.RefreshLoading()
	}

	if len(l.faults) == 0 {
		l.process()
	}
	if l.names.flush(l.table) {
		l.log.Debug("ghost names updated",
			zap.Int("ghosts", len(l.names.ghosts)),
			zap.Int("prediction_errors", len(l.names.errors)))
	}
	if len(l.faults) > 0 {
		l.fail()
	}
}

// applyStore feeds store changes to the registry: withdrawals first, then
// additions, so a swap never shows an empty binding outside the tick.
func (l *Loop) applyStore() {
	added, withdrawn := l.store.DrainChanges()
	if l.reoffer {
		l.reoffer = false
		l.reg.OfferAll(l.store.Instances())
		return
	}
	for _, w := range withdrawn {
		if l.reg.Withdraw(w) == Rebound {
			e, _ := l.reg.Lookup(w.Type)
			event.Emit(l.bus, event.GhostTypeRebound{Index: e.Index, Type: e.Type, Template: e.Template})
		}
	}
	insts := make([]*template.Instance, 0, len(added))
	for _, h := range added {
		if inst, ok := l.store.Get(h); ok {
			insts = append(insts, inst)
		}
	}
	l.reg.OfferAll(insts)
}

func (l *Loop) process() {
	compiled := 0
	for l.opts.MaxCompilesPerTick <= 0 || compiled < l.opts.MaxCompilesPerTick {
		start := time.Now()
		step, fault := l.reg.Next()
		if step.Compiled {
			compiled++
			warnings := 0
			name := ""
			if step.Schema != nil {
				warnings = len(step.Schema.Warnings)
				name = step.Schema.Name
			}
			l.obs.ObserveCompile(name, time.Since(start), warnings)
		}
		if fault != nil {
			l.faults = append(l.faults, fault)
			return
		}
		switch step.Kind {
		case StepIdle, StepWaiting:
			return
		case StepActivated:
			e := step.Entry
			l.names.addGhost(e.Schema)
			event.Emit(l.bus, event.GhostTypeActivated{Index: e.Index, Type: e.Type, Name: e.Name, TypeHash: e.Schema.TypeHash})
			l.log.Debug("ghost type activated",
				zap.Int("index", e.Index),
				zap.String("ghost", e.Name),
				zap.String("hash", fmt.Sprintf("%#x", e.Schema.TypeHash)),
				zap.Int("bytes", e.Schema.SnapshotRecordBytes))
		case StepUnchanged:
			l.log.Debug("rebound ghost recompiled to the same layout", zap.String("ghost", step.Entry.Name))
		}
	}
}

// fail ends the session: every live connection gets exactly one disconnect
// request and no further compiles run until a reset.
func (l *Loop) fail() {
	for _, f := range l.faults {
		l.log.Error("ghost schema fault",
			zap.Int("index", f.Index),
			zap.String("ghost", f.Name),
			zap.String("type", f.Type.String()),
			zap.String("expected", fmt.Sprintf("%#x", f.Expected)),
			zap.String("got", fmt.Sprintf("%#x", f.Got)),
			zap.Error(f.Err))
		l.obs.ObserveFault(f)
		event.Emit(l.bus, event.SchemaFault{
			Index: f.Index, Type: f.Type, Name: f.Name,
			Expected: f.Expected, Got: f.Got, Reason: f.Err.Error(),
		})
	}
	conns := l.peers.Connections()
	l.log.Error("disconnecting all connections after ghost schema faults",
		zap.Int("faults", len(l.faults)), zap.Int("connections", len(conns)))
	l.disconnect(conns)
	l.names.abort()
	l.faults = l.faults[:0]
	l.announced = l.announced[:0]
	l.state = StateDraining
}

// disconnect asks each connection to leave, once per drain.
func (l *Loop) disconnect(conns []uint64) {
	for _, id := range conns {
		if _, done := l.dropped[id]; done {
			continue
		}
		l.dropped[id] = struct{}{}
		if l.state == StateDraining {
			l.log.Warn("connection joined a draining session", zap.Uint64("connection", id))
		}
		l.peers.RequestDisconnect(id, ghost.ReasonBadProtocolVersion)
	}
}

func (l *Loop) reset() {
	l.reg.Reset()
	clear(l.dropped)
	l.names.reset()
	l.faults = l.faults[:0]
	l.announced = l.announced[:0]
	l.reoffer = true
	l.state = StateIdle
	event.Emit(l.bus, event.CollectionReset{})
	l.log.Info("ghost collection reset")
}

func (l *Loop) publish() {
	v := buildView(l.tick, l.state, l.reg, l.names)
	l.view.Store(v)
	l.obs.ObserveTick(v)
}
