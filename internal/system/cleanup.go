package system

import (
	"time"

	"github.com/l1jgo/ghostreg/internal/core/event"
	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/net"
	"go.uber.org/zap"
)

// CleanupSystem removes closed sessions at tick end. Phase 6 (Cleanup).
type CleanupSystem struct {
	netServer *net.Server      // nil on the client
	client    *net.ClientPeers // nil on the server
	store     *net.SessionStore
	bus       *event.Bus
	log       *zap.Logger
}

func NewCleanupSystem(netServer *net.Server, client *net.ClientPeers, store *net.SessionStore, bus *event.Bus, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{netServer: netServer, client: client, store: store, bus: bus, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	for _, id := range s.store.IDs() {
		sess := s.store.Get(id)
		if !sess.IsClosed() || len(sess.InQueue) > 0 {
			continue
		}
		s.store.Remove(id)
		event.Emit(s.bus, event.PeerLeft{SessionID: id})
		s.log.Info("peer left", zap.Uint64("session", id), zap.String("peer", sess.PeerName))
		if s.netServer != nil {
			s.netServer.NotifyDead(id)
		}
		if s.client != nil {
			s.client.Left()
		}
	}
}
