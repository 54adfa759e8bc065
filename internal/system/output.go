package system

import (
	"time"

	"github.com/l1jgo/ghostreg/internal/collection"
	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/handler"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// AnnounceSystem streams the ghost list. On the server every synced
// session gets the activated slots it has not seen, in index order, and a
// sync notice after each batch. On the client it acknowledges how many
// types are active. Phase 4 (Output).
type AnnounceSystem struct {
	loop  *collection.Loop
	store *net.SessionStore
	log   *zap.Logger
}

func NewAnnounceSystem(loop *collection.Loop, store *net.SessionStore, log *zap.Logger) *AnnounceSystem {
	return &AnnounceSystem{loop: loop, store: store, log: log}
}

func (s *AnnounceSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *AnnounceSystem) Update(_ time.Duration) {
	if s.loop.State() != collection.StateActive {
		return
	}
	reg := s.loop.Registry()
	s.store.ForEach(func(sess *net.Session) {
		if sess.State() != packet.StateSynced || sess.Disconnecting() {
			return
		}
		if reg.Role() == ghost.RoleClient {
			if sess.Announced != reg.Activated() {
				sess.Send(handler.WriteGhostAck(reg.Activated()))
				sess.Announced = reg.Activated()
			}
			return
		}
		sent := 0
		for i := sess.Announced; i < reg.Activated(); i++ {
			e := reg.At(i)
			sess.Send(handler.WriteGhostListEntry(collection.Announcement{
				Index: e.Index,
				Type:  e.Type,
				Hash:  e.Schema.TypeHash,
				Name:  e.Name,
			}))
			sent++
		}
		sess.Announced = reg.Activated()
		if sent > 0 || !sess.ListSynced {
			sess.Send(handler.WriteListSync(sess.Announced))
			sess.ListSynced = true
			s.log.Debug("ghost list sent",
				zap.Uint64("session", sess.ID),
				zap.Int("entries", sent),
				zap.Int("total", sess.Announced))
		}
	})
}

// OutputSystem flushes every session's buffered packets. Phase 4 (Output),
// registered after AnnounceSystem.
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
