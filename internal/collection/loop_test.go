package collection

import (
	"errors"
	"testing"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/l1jgo/ghostreg/internal/template"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeers struct {
	inGame      bool
	loading     bool
	conns       []uint64
	disconnects map[uint64][]ghost.DisconnectReason
}

func newPeers(conns ...uint64) *fakePeers {
	return &fakePeers{inGame: true, conns: conns, disconnects: make(map[uint64][]ghost.DisconnectReason)}
}

func (p *fakePeers) InGame() bool          { return p.inGame }
func (p *fakePeers) Loading() bool         { return p.loading }
func (p *fakePeers) Connections() []uint64 { return p.conns }
func (p *fakePeers) RequestDisconnect(id uint64, reason ghost.DisconnectReason) {
	p.disconnects[id] = append(p.disconnects[id], reason)
}

func catalogueFixture() *catalogue.Table {
	tbl := catalogue.NewTable()
	tbl.MustAdd(catalogue.Descriptor{TypeName: "Translation", SnapshotSize: 12, ChangeMaskBits: 3, SendMask: ghost.SendAll, SendForChildren: true, PredictionErrors: 2, PredictionErrorNames: "x,y"})
	tbl.MustAdd(catalogue.Descriptor{TypeName: "GhostOwner", SnapshotSize: 4, ChangeMaskBits: 1, SendMask: ghost.SendAll, OwnershipMarker: true})
	tbl.MustAdd(catalogue.Descriptor{TypeName: "Health", SnapshotSize: 4, ChangeMaskBits: 1, SendMask: ghost.SendAll})
	return tbl
}

func tmpl(name string, types ...string) *template.Metadata {
	m := &template.Metadata{Name: name, Type: ghost.DeriveType(name), SubObjects: 2}
	for _, tn := range types {
		sub := 0
		if tn == "Translation@1" {
			sub, tn = 1, "Translation"
		}
		m.Fields = append(m.Fields, template.Field{SubObject: sub, TypeName: tn, StableHash: catalogue.StableHashOf(tn)})
	}
	return m
}

type harness struct {
	t     *testing.T
	table *catalogue.Table
	store *template.Store
	peers *fakePeers
	bus   *event.Bus
	loop  *Loop
}

func newHarness(t *testing.T, role ghost.Role, opts Options, conns ...uint64) *harness {
	t.Helper()
	table := catalogueFixture()
	store := template.NewStore()
	peers := newPeers(conns...)
	bus := event.NewBus()
	reg := NewRegistry(role, schema.NewCompiler(table, zap.NewNop()), zap.NewNop())
	return &harness{
		t: t, table: table, store: store, peers: peers, bus: bus,
		loop: NewLoop(table, reg, store, peers, bus, zap.NewNop(), opts),
	}
}

func (h *harness) reg() *Registry { return h.loop.Registry() }

// hashOf compiles m independently, as the far peer would.
func (h *harness) hashOf(m *template.Metadata) uint64 {
	h.t.Helper()
	if !h.table.Finalized() {
		require.NoError(h.t, h.table.Finalize())
	}
	s, err := schema.NewCompiler(h.table, zap.NewNop()).Compile(m)
	require.NoError(h.t, err)
	return s.TypeHash
}

func TestServer_ActivatesInDiscoveryOrder(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{})
	var activated []event.GhostTypeActivated
	event.Subscribe(h.bus, func(e event.GhostTypeActivated) { activated = append(activated, e) })

	h.store.Add(tmpl("Player", "Translation", "GhostOwner", "Translation@1"), "")
	h.store.Add(tmpl("Crate", "Translation", "Health"), "")
	h.loop.Tick()

	require.Equal(t, StateActive, h.loop.State())
	v := h.loop.View()
	require.Len(t, v.Entries, 2)
	require.Equal(t, 2, v.Activated)
	require.Equal(t, "Player", v.Entries[0].Name)
	require.Equal(t, "Crate", v.Entries[1].Name)
	require.Equal(t, 0, v.Entries[0].Schema.FirstFieldIndex)
	require.Equal(t, 3, v.Entries[1].Schema.FirstFieldIndex)
	require.Equal(t, 5, v.FieldCount)

	require.Equal(t, []string{"Player", "Crate"}, v.GhostNames)
	require.Equal(t, []string{
		"Player.Translation.x", "Player.Translation.y",
		"Player[1].Translation.x", "Player[1].Translation.y",
		"Crate.Translation.x", "Crate.Translation.y",
	}, v.PredictionErrorNames)
	require.Equal(t, 6, v.PredictionErrorSlots)

	h.bus.SwapBuffers()
	h.bus.DispatchAll()
	require.Len(t, activated, 2)
	require.Equal(t, 0, activated[0].Index)
	require.Equal(t, v.Entries[0].Schema.TypeHash, activated[0].TypeHash)

	err := h.table.Add(catalogue.Descriptor{TypeName: "Late"})
	require.ErrorIs(t, err, catalogue.ErrAlreadyFinalized)
}

func TestRebindingSafety(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{})
	first := h.store.Add(tmpl("Player", "Translation"), "")
	second := h.store.Add(tmpl("Player", "Translation"), "")
	h.loop.Tick()

	typ := ghost.DeriveType("Player")
	bound, ok := h.reg().GetBinding(typ)
	require.True(t, ok)
	require.Equal(t, first, bound, "lowest ordinal wins")

	h.store.Remove(first)
	h.loop.Tick()

	bound, ok = h.reg().GetBinding(typ)
	require.True(t, ok)
	require.Equal(t, second, bound)
	e, _ := h.reg().Lookup(typ)
	require.Equal(t, 2, e.Compiles, "rebinding recompiles")
	require.Equal(t, StateActive, h.loop.State())
	require.Empty(t, h.peers.disconnects)
}

func TestResolve_Idempotent(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{})
	h.store.Add(tmpl("Player", "Translation"), "")
	h.loop.Tick()

	typ := ghost.DeriveType("Player")
	before, _ := h.reg().Lookup(typ)
	snapshot := *before
	for i := 0; i < 5; i++ {
		require.Equal(t, Unchanged, h.reg().Resolve(typ))
	}
	h.loop.Tick()
	after, _ := h.reg().Lookup(typ)
	require.Equal(t, 1, after.Compiles)
	require.Equal(t, snapshot.Schema, after.Schema)
	require.Equal(t, snapshot.Template, after.Template)
	require.Zero(t, h.reg().QueueLen())
}

func TestClient_HashMismatchDisconnectsOnce(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{}, 7, 9)
	m := tmpl("Player", "Translation")
	h.store.Add(m, "")
	h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: 0xABCD, Name: "Player"})

	var faults []event.SchemaFault
	event.Subscribe(h.bus, func(e event.SchemaFault) { faults = append(faults, e) })

	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Equal(t, []ghost.DisconnectReason{ghost.ReasonBadProtocolVersion}, h.peers.disconnects[7])
	require.Equal(t, []ghost.DisconnectReason{ghost.ReasonBadProtocolVersion}, h.peers.disconnects[9])

	for i := 0; i < 3; i++ {
		h.store.Add(tmpl("Player", "Translation"), "")
		h.loop.Tick()
	}
	e, _ := h.reg().Lookup(m.Type)
	require.Equal(t, 1, e.Compiles, "no compiles after the fault")
	require.Len(t, h.peers.disconnects[7], 1)
	require.Len(t, h.peers.disconnects[9], 1)
	_, ok := h.reg().GetSchema(m.Type)
	require.False(t, ok)

	h.bus.SwapBuffers()
	h.bus.DispatchAll()
	require.Len(t, faults, 1)
	require.Equal(t, uint64(0xABCD), faults[0].Expected)
	require.NotEqual(t, uint64(0xABCD), faults[0].Got)

	// Once the connections are gone the session resets.
	h.peers.conns = nil
	h.loop.Tick()
	require.Equal(t, StateIdle, h.loop.State())
	require.Empty(t, h.loop.View().Entries)
}

func TestClient_MatchingHashActivates(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{}, 1)
	m := tmpl("Player", "Translation", "GhostOwner")
	h.store.Add(m, "")
	h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: h.hashOf(m), Name: "Player"})
	h.loop.Tick()

	s, ok := h.reg().GetSchema(m.Type)
	require.True(t, ok)
	require.Equal(t, h.hashOf(m), s.TypeHash)
	require.Empty(t, h.peers.disconnects)

	// A repeated list entry is harmless.
	h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: h.hashOf(m), Name: "Player"})
	h.loop.Tick()
	require.Equal(t, StateActive, h.loop.State())
}

func TestClient_PendingAssignmentFilledLater(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{}, 1)
	h.peers.loading = true
	player := tmpl("Player", "Translation")
	other := tmpl("Unrelated", "Health")

	h.loop.Announce(Announcement{Index: 0, Type: other.Type, Hash: h.hashOf(other), Name: "Unrelated"})
	h.loop.Announce(Announcement{Index: 1, Type: player.Type, Hash: h.hashOf(player), Name: "Player"})
	h.loop.Tick()

	e, ok := h.reg().Lookup(player.Type)
	require.True(t, ok)
	require.Equal(t, PendingRemoteAssignment, e.State)
	require.Equal(t, 2, h.reg().PendingCount())

	h.store.Add(player, "player.yaml")
	h.loop.Tick()

	require.Equal(t, Bound, e.State)
	_, ok = h.reg().GetBinding(player.Type)
	require.True(t, ok)
	require.Equal(t, 1, h.reg().PendingCount(), "only the unrelated type is still pending")
	u, _ := h.reg().Lookup(other.Type)
	require.Equal(t, PendingRemoteAssignment, u.State)
	require.Empty(t, h.peers.disconnects)
}

func TestClient_UnresolvedAfterLoadingIsFatal(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{}, 1)
	m := tmpl("Player", "Translation")
	h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: 0x1234, Name: "Player"})

	h.loop.Tick()
	require.Equal(t, StateActive, h.loop.State(), "one tick of grace")
	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Len(t, h.peers.disconnects[1], 1)
}

func TestClient_LoadingGraceTicks(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{LoadingGraceTicks: 5}, 1)
	m := tmpl("Player", "Translation")
	h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: h.hashOf(m), Name: "Player"})
	for i := 0; i < 4; i++ {
		h.loop.Tick()
	}
	require.Equal(t, StateActive, h.loop.State())
	h.store.Add(m, "")
	h.loop.Tick()
	_, ok := h.reg().GetSchema(m.Type)
	require.True(t, ok)
}

func TestClient_AnnouncementGapIsFatal(t *testing.T) {
	h := newHarness(t, ghost.RoleClient, Options{}, 1)
	m := tmpl("Player", "Translation")
	h.loop.Announce(Announcement{Index: 3, Type: m.Type, Hash: 1, Name: "Player"})
	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Len(t, h.peers.disconnects[1], 1)
}

func TestWithdrawLastCandidate(t *testing.T) {
	t.Run("server", func(t *testing.T) {
		h := newHarness(t, ghost.RoleServer, Options{})
		m := tmpl("Player", "Translation")
		hd := h.store.Add(m, "")
		h.loop.Tick()
		h.store.Remove(hd)
		h.loop.Tick()

		e, _ := h.reg().Lookup(m.Type)
		require.Equal(t, Unbound, e.State)
		_, ok := h.reg().GetBinding(m.Type)
		require.False(t, ok)
		_, ok = h.reg().GetSchema(m.Type)
		require.True(t, ok, "the slot and its layout survive")

		h.store.Add(tmpl("Player", "Translation"), "")
		h.loop.Tick()
		require.Equal(t, Bound, e.State)
		require.Equal(t, 2, e.Compiles)
	})
	t.Run("client", func(t *testing.T) {
		h := newHarness(t, ghost.RoleClient, Options{}, 1)
		m := tmpl("Player", "Translation")
		hd := h.store.Add(m, "")
		h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: h.hashOf(m), Name: "Player"})
		h.loop.Tick()
		h.store.Remove(hd)
		h.loop.Tick()

		e, _ := h.reg().Lookup(m.Type)
		require.Equal(t, PendingRemoteAssignment, e.State)
		require.Equal(t, 1, h.reg().PendingCount())
	})
}

func TestSchemaDriftOnRebind(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{}, 1)
	first := h.store.Add(tmpl("Player", "Translation"), "")
	h.store.Add(tmpl("Player", "Translation", "Health"), "")
	h.loop.Tick()
	require.Equal(t, StateActive, h.loop.State())

	h.store.Remove(first)
	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Len(t, h.peers.disconnects[1], 1)
}

func TestSwapWithinOneTickKeepsBinding(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{})
	h.store.Add(tmpl("Player", "Translation"), "player.yaml")
	h.loop.Tick()
	h.store.Add(tmpl("Player", "Translation"), "player.yaml")
	h.loop.Tick()

	v := h.loop.View()
	require.Equal(t, Bound, v.Entries[0].State)
	require.Equal(t, StateActive, v.State)
}

func TestCompileBudget(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{MaxCompilesPerTick: 1})
	h.store.Add(tmpl("A", "Translation"), "")
	h.store.Add(tmpl("B", "Translation"), "")
	h.loop.Tick()
	require.Equal(t, 1, h.loop.View().Activated)
	require.Equal(t, 1, h.loop.View().QueueLen)
	h.loop.Tick()
	require.Equal(t, 2, h.loop.View().Activated)
}

func TestCompileBudget_WithdrawnQueuedSlotDoesNotBlock(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{MaxCompilesPerTick: 1}, 1)
	h.store.Add(tmpl("A", "Translation"), "")
	b := h.store.Add(tmpl("B", "Translation"), "")
	h.store.Add(tmpl("C", "Translation", "Health"), "")
	h.loop.Tick()
	require.Equal(t, 1, h.loop.View().Activated)

	h.store.Remove(b)
	for i := 0; i < 5; i++ {
		h.loop.Tick()
	}
	v := h.loop.View()
	require.Equal(t, StateActive, v.State)
	require.Equal(t, 2, v.Activated)
	require.Zero(t, v.QueueLen)
	require.Empty(t, h.peers.disconnects)

	c, ok := h.reg().Lookup(ghost.DeriveType("C"))
	require.True(t, ok)
	require.Equal(t, 1, c.Index, "C takes the first inactive slot")
	require.True(t, c.Active())

	bt := ghost.DeriveType("B")
	e, ok := h.reg().Lookup(bt)
	require.True(t, ok, "the slot is kept")
	require.Equal(t, Unbound, e.State)
	require.Equal(t, 2, e.Index)
	require.False(t, e.Active())
	require.Equal(t, []string{"A", "C"}, v.GhostNames)

	h.store.Add(tmpl("B", "Translation"), "")
	h.loop.Tick()
	require.Equal(t, Bound, e.State)
	require.True(t, e.Active())
	require.Equal(t, 2, e.Index)
	require.Equal(t, 3, h.loop.View().Activated)
	require.Equal(t, 3, e.Schema.FirstFieldIndex)
}

func TestServer_WithdrawnActiveSlotRebindsUnderBudget(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{MaxCompilesPerTick: 1}, 1)
	a := h.store.Add(tmpl("A", "Translation"), "")
	h.store.Add(tmpl("B", "Health"), "")
	h.loop.Tick()
	h.loop.Tick()
	require.Equal(t, 2, h.loop.View().Activated)

	h.store.Remove(a)
	h.store.Add(tmpl("C", "GhostOwner"), "")
	h.store.Add(tmpl("D", "Translation", "Health"), "")
	h.loop.Tick()
	h.loop.Tick()

	at := ghost.DeriveType("A")
	e, _ := h.reg().Lookup(at)
	require.Equal(t, Unbound, e.State)
	require.Equal(t, 0, e.Index)
	require.True(t, e.Active(), "the layout stays visible to the wire layer")
	require.Equal(t, 4, h.loop.View().Activated, "later slots activate behind the unbound one")
	require.Empty(t, h.peers.disconnects)

	h.store.Add(tmpl("A", "Translation"), "")
	h.loop.Tick()
	require.Equal(t, Bound, e.State)
	require.Equal(t, 0, e.Index)
	require.Equal(t, 2, e.Compiles)
	require.Equal(t, StateActive, h.loop.State())
}

func TestCompileErrorIsFatal(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{}, 4)
	m := tmpl("Player", "Translation")
	m.DefaultMode = ghost.ModeOwnerPredicted
	h.store.Add(m, "")
	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Len(t, h.peers.disconnects[4], 1)
}

func TestDraining_LateConnectionIsDisconnected(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{}, 1)
	m := tmpl("Player", "Translation")
	m.DefaultMode = ghost.ModeOwnerPredicted
	h.store.Add(m, "")
	h.loop.Tick()
	require.Equal(t, StateDraining, h.loop.State())
	require.Len(t, h.peers.disconnects[1], 1)

	// 1 is gone, 2 connects before the drain completes.
	h.peers.conns = []uint64{2}
	for i := 0; i < 50; i++ {
		h.loop.Tick()
	}
	require.Equal(t, StateDraining, h.loop.State())
	require.Equal(t, []ghost.DisconnectReason{ghost.ReasonBadProtocolVersion}, h.peers.disconnects[2])
	require.Len(t, h.peers.disconnects[1], 1)

	h.peers.conns = nil
	h.loop.Tick()
	require.Equal(t, StateIdle, h.loop.State())
}

func TestLeavingSessionResets(t *testing.T) {
	h := newHarness(t, ghost.RoleServer, Options{})
	var resets int
	event.Subscribe(h.bus, func(event.CollectionReset) { resets++ })
	h.store.Add(tmpl("Player", "Translation"), "")
	h.loop.Tick()
	require.Len(t, h.loop.View().Entries, 1)

	h.peers.inGame = false
	h.loop.Tick()
	require.Equal(t, StateIdle, h.loop.State())
	v := h.loop.View()
	require.Empty(t, v.Entries)
	require.Empty(t, v.GhostNames)
	require.Empty(t, v.PredictionErrorNames)

	h.peers.inGame = true
	h.loop.Tick()
	require.Len(t, h.loop.View().Entries, 1, "store instances are offered again")
	require.Equal(t, 1, h.loop.View().Activated)

	h.bus.SwapBuffers()
	h.bus.DispatchAll()
	require.Equal(t, 1, resets)
}

func TestStripList(t *testing.T) {
	build := func() *template.Metadata {
		m := tmpl("Player", "Translation", "Health", "GhostOwner")
		m.Fields[1].PrefabType = ghost.PrefabServer
		m.Fields[2].PrefabType = ghost.PrefabInterpolatedClient
		return m
	}
	stripped := func(reg *Registry, typ ghost.Type, mode ghost.Mode) []string {
		s, ok := reg.GetSchema(typ)
		require.True(t, ok)
		var names []string
		for _, i := range reg.StripList(typ, mode) {
			names = append(names, s.Fields[i].TypeName)
		}
		return names
	}

	t.Run("server", func(t *testing.T) {
		h := newHarness(t, ghost.RoleServer, Options{})
		m := build()
		h.store.Add(m, "")
		h.loop.Tick()
		require.Equal(t, []string{"GhostOwner"}, stripped(h.reg(), m.Type, ghost.ModeInterpolated))
		require.Nil(t, h.reg().StripList(ghost.DeriveType("Unknown"), ghost.ModeInterpolated))
	})
	t.Run("client", func(t *testing.T) {
		h := newHarness(t, ghost.RoleClient, Options{}, 1)
		m := build()
		h.store.Add(m, "")
		h.loop.Announce(Announcement{Index: 0, Type: m.Type, Hash: h.hashOf(build()), Name: "Player"})
		h.loop.Tick()
		require.Equal(t, StateActive, h.loop.State())
		require.Equal(t, []string{"Health"}, stripped(h.reg(), m.Type, ghost.ModeInterpolated))
		require.Equal(t, []string{"Health", "GhostOwner"}, stripped(h.reg(), m.Type, ghost.ModeOwnerPredicted))
	})
}

func TestFaultUnwrap(t *testing.T) {
	f := &Fault{Index: 1, Name: "Player", Expected: 0xABCD, Got: 0x1234, Err: ErrHashMismatch}
	require.True(t, errors.Is(f, ErrHashMismatch))
	require.Contains(t, f.Error(), "0xabcd")
}

func TestErrorName(t *testing.T) {
	require.Equal(t, "Player.Translation.x", errorName("Player", 0, "Translation", "x"))
	require.Equal(t, "Player[2].Translation.x", errorName("Player", 2, "Translation", "x"))
}
