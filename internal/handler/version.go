package handler

import (
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// SendVersion sends the client's half of the handshake.
func SendVersion(sess *net.Session, deps *Deps) {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_VERSION)
	w.WriteD(deps.ProtocolVersion)
	w.WriteS(deps.NodeName)
	sess.Send(w.Bytes())
}

// HandleVersion processes the client's version (server side). A protocol
// mismatch is answered with a disconnect notice.
func HandleVersion(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := r.ReadD()
	name := r.ReadS()
	if r.Short() || version != deps.ProtocolVersion {
		deps.Log.Warn("client protocol mismatch",
			zap.Uint64("session", sess.ID),
			zap.Int32("client", version),
			zap.Int32("server", deps.ProtocolVersion))
		sess.Disconnect(ghost.ReasonBadProtocolVersion)
		return
	}

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_VERSION)
	w.WriteD(deps.ProtocolVersion)
	w.WriteS(deps.NodeName)
	sess.Send(w.Bytes())

	sess.PeerName = name
	sess.SetState(packet.StateSynced)
	event.Emit(deps.Bus, event.PeerJoined{SessionID: sess.ID, Addr: sess.IP})
	deps.Log.Info("client joined", zap.Uint64("session", sess.ID), zap.String("peer", name))
}

// HandleServerVersion processes the server's reply (client side).
func HandleServerVersion(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := r.ReadD()
	name := r.ReadS()
	if r.Short() || version != deps.ProtocolVersion {
		deps.Log.Error("server protocol mismatch",
			zap.Int32("server", version),
			zap.Int32("client", deps.ProtocolVersion))
		sess.Disconnect(ghost.ReasonBadProtocolVersion)
		return
	}
	sess.PeerName = name
	sess.SetState(packet.StateSynced)
	deps.Client.Joined()
	event.Emit(deps.Bus, event.PeerJoined{SessionID: sess.ID, Addr: sess.IP})
	deps.Log.Info("joined server", zap.String("peer", name))
}

// HandleDisconnect closes the session after the peer's notice.
func HandleDisconnect(sess *net.Session, r *packet.Reader, deps *Deps) {
	reason := ghost.DisconnectReason(r.ReadC())
	deps.Log.Warn("peer disconnected",
		zap.Uint64("session", sess.ID),
		zap.String("peer", sess.PeerName),
		zap.String("reason", reason.String()))
	sess.Close()
}
