package handler

import (
	gonet "net"
	"testing"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/l1jgo/ghostreg/internal/template"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newDeps(t *testing.T, role ghost.Role) (*Deps, *net.SessionStore, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	table := catalogue.NewTable()
	table.MustAdd(catalogue.Descriptor{TypeName: "Translation", SnapshotSize: 12, ChangeMaskBits: 3, SendMask: ghost.SendAll})

	sessions := net.NewSessionStore()
	var peers collection.Peers
	var client *net.ClientPeers
	if role == ghost.RoleServer {
		peers = net.NewServerPeers(sessions)
	} else {
		client = net.NewClientPeers(sessions)
		peers = client
	}
	reg := collection.NewRegistry(role, schema.NewCompiler(table, log), log)
	loop := collection.NewLoop(table, reg, template.NewStore(), peers, event.NewBus(), log, collection.Options{})
	return &Deps{
		Role: role, NodeName: role.String(), ProtocolVersion: 3,
		Loop: loop, Bus: event.NewBus(), Client: client, Log: log,
	}, sessions, logs
}

func newSession(t *testing.T, id uint64) *net.Session {
	t.Helper()
	a, b := gonet.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return net.NewSession(a, id, 8, 8, 0, zap.NewNop())
}

func TestGhostListEntry_Announces(t *testing.T) {
	deps, sessions, _ := newDeps(t, ghost.RoleClient)
	sess := newSession(t, 1)
	sess.SetState(packet.StateSynced)
	sessions.Add(sess)
	deps.Client.Joined()

	crate := ghost.DeriveType("Crate")
	data := WriteGhostListEntry(collection.Announcement{Index: 0, Type: crate, Hash: 0xDEADBEEF, Name: "Crate"})
	require.Equal(t, packet.S_OPCODE_GHOST_LIST, data[0])

	HandleGhostList(sess, packet.NewReader(data), deps)
	deps.Loop.Tick()

	v := deps.Loop.View()
	require.Equal(t, collection.StateActive, v.State)
	e, ok := v.Lookup(crate)
	require.True(t, ok)
	require.Equal(t, 0, e.Index)
	require.Equal(t, "Crate", e.Name)
	require.True(t, e.Announced)
	require.Equal(t, uint64(0xDEADBEEF), e.ExpectedHash)
	require.Equal(t, 1, v.Pending())
	require.False(t, sess.Disconnecting())
}

func TestGhostListEntry_TruncatedDisconnects(t *testing.T) {
	deps, _, logs := newDeps(t, ghost.RoleClient)
	sess := newSession(t, 1)

	data := WriteGhostListEntry(collection.Announcement{Index: 0, Type: ghost.DeriveType("Crate"), Hash: 1, Name: "Crate"})
	HandleGhostList(sess, packet.NewReader(data[:10]), deps)

	require.True(t, sess.Disconnecting())
	require.Equal(t, packet.StateDisconnecting, sess.State())
	require.Equal(t, 1, logs.FilterMessage("malformed ghost list entry").Len())
}

func TestListSyncEndsLoading(t *testing.T) {
	deps, _, _ := newDeps(t, ghost.RoleClient)
	deps.Client.Joined()
	require.True(t, deps.Client.Loading())

	HandleListSync(nil, packet.NewReader(WriteListSync(4)), deps)
	require.False(t, deps.Client.Loading())
	require.True(t, deps.Client.InGame())
}

func TestGhostAckRecorded(t *testing.T) {
	deps, _, _ := newDeps(t, ghost.RoleServer)
	sess := newSession(t, 5)
	HandleGhostAck(sess, packet.NewReader(WriteGhostAck(7)), deps)
	require.Equal(t, 7, sess.Acked)
}

func versionPacket(opcode byte, version int32, name string) []byte {
	w := packet.NewWriterWithOpcode(opcode)
	w.WriteD(version)
	w.WriteS(name)
	return w.Bytes()
}

func TestHandleVersion(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		deps, _, logs := newDeps(t, ghost.RoleServer)
		var joined []event.PeerJoined
		event.Subscribe(deps.Bus, func(e event.PeerJoined) { joined = append(joined, e) })

		sess := newSession(t, 2)
		HandleVersion(sess, packet.NewReader(versionPacket(packet.C_OPCODE_VERSION, 3, "client-a")), deps)

		require.Equal(t, packet.StateSynced, sess.State())
		require.Equal(t, "client-a", sess.PeerName)
		require.Equal(t, 1, logs.FilterMessage("client joined").Len())

		deps.Bus.SwapBuffers()
		deps.Bus.DispatchAll()
		require.Len(t, joined, 1)
		require.Equal(t, uint64(2), joined[0].SessionID)
	})
	t.Run("mismatch", func(t *testing.T) {
		deps, _, logs := newDeps(t, ghost.RoleServer)
		sess := newSession(t, 2)
		HandleVersion(sess, packet.NewReader(versionPacket(packet.C_OPCODE_VERSION, 2, "old")), deps)

		require.True(t, sess.Disconnecting())
		require.Equal(t, 1, logs.FilterMessage("client protocol mismatch").Len())
	})
}

func TestHandleServerVersion(t *testing.T) {
	deps, _, _ := newDeps(t, ghost.RoleClient)
	sess := newSession(t, 1)
	HandleServerVersion(sess, packet.NewReader(versionPacket(packet.S_OPCODE_VERSION, 3, "server")), deps)

	require.Equal(t, packet.StateSynced, sess.State())
	require.True(t, deps.Client.InGame())
	require.True(t, deps.Client.Loading())
}

func TestHandleDisconnect(t *testing.T) {
	deps, _, logs := newDeps(t, ghost.RoleServer)
	sess := newSession(t, 3)

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_DISCONNECT)
	w.WriteC(byte(ghost.ReasonBadProtocolVersion))
	HandleDisconnect(sess, packet.NewReader(w.Bytes()), deps)

	require.True(t, sess.IsClosed())
	entries := logs.FilterMessage("peer disconnected").All()
	require.Len(t, entries, 1)
	require.Equal(t, "bad_protocol_version", entries[0].ContextMap()["reason"])
}

func TestRegisterAll_StateGating(t *testing.T) {
	deps, _, logs := newDeps(t, ghost.RoleServer)
	reg := packet.NewRegistry(deps.Log)
	RegisterAll(reg, deps)

	sess := newSession(t, 4)
	// An ack before the handshake is refused.
	_ = reg.Dispatch(sess, packet.StateHandshake, WriteGhostAck(1))
	require.Zero(t, sess.Acked)
	require.Equal(t, 1, logs.FilterMessage("opcode not allowed in this state").Len())

	// Client-side opcodes are unknown to a server.
	_ = reg.Dispatch(sess, packet.StateSynced, WriteListSync(1))
	require.Equal(t, 1, logs.FilterMessage("unknown opcode").Len())
}
