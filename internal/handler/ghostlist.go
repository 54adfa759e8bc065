package handler

import (
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// WriteGhostListEntry encodes one ghost list entry.
func WriteGhostListEntry(a collection.Announcement) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_GHOST_LIST)
	w.WriteD(int32(a.Index))
	b := a.Type.Bytes()
	w.WriteBytes(b[:])
	w.WriteQ(a.Hash)
	w.WriteS(a.Name)
	return w.Bytes()
}

// WriteListSync encodes the end of a ghost list batch.
func WriteListSync(count int) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_LIST_SYNC)
	w.WriteD(int32(count))
	return w.Bytes()
}

// WriteGhostAck encodes the client's activated count.
func WriteGhostAck(activated int) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_GHOST_ACK)
	w.WriteD(int32(activated))
	return w.Bytes()
}

// HandleGhostList feeds a ghost list entry to the collection loop
// (client side). A truncated entry ends the session.
func HandleGhostList(sess *net.Session, r *packet.Reader, deps *Deps) {
	index := r.ReadD()
	var raw [16]byte
	copy(raw[:], r.ReadBytes(16))
	hash := r.ReadQ()
	name := r.ReadS()
	if r.Short() || index < 0 {
		deps.Log.Error("malformed ghost list entry", zap.Int32("index", index))
		sess.Disconnect(ghost.ReasonBadProtocolVersion)
		return
	}
	deps.Loop.Announce(collection.Announcement{
		Index: int(index),
		Type:  ghost.TypeFromBytes(raw),
		Hash:  hash,
		Name:  name,
	})
}

// HandleListSync marks the server's ghost list as streamed (client side).
func HandleListSync(_ *net.Session, r *packet.Reader, deps *Deps) {
	count := r.ReadD()
	deps.Client.Synced()
	deps.Log.Debug("ghost list in sync", zap.Int32("entries", count))
}

// HandleGhostAck records how many ghost types the client activated
// (server side).
func HandleGhostAck(sess *net.Session, r *packet.Reader, deps *Deps) {
	sess.Acked = int(r.ReadD())
	deps.Log.Debug("client acknowledged ghost types",
		zap.Uint64("session", sess.ID),
		zap.Int("activated", sess.Acked))
}
