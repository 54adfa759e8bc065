package system

import (
	"time"

	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// InputSystem accepts new sessions and drains packet queues from all
// sessions through the packet registry. Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server // nil on the client
	registry   *packet.Registry
	store      *net.SessionStore
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(netServer *net.Server, registry *packet.Registry, store *net.SessionStore, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		netServer:  netServer,
		registry:   registry,
		store:      store,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	if s.netServer != nil {
		s.acceptNew()
	}

	// Drain packets from each session (up to maxPerTick per session).
	// Closed sessions are drained too, so a last notice is still handled;
	// CleanupSystem removes them at tick end.
	s.store.ForEach(func(sess *net.Session) {
		for i := 0; i < s.maxPerTick; i++ {
			select {
			case data := <-sess.InQueue:
				if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
					s.log.Debug("packet dispatch error",
						zap.Uint64("session", sess.ID),
						zap.Error(err),
					)
				}
			default:
				return
			}
		}
	})
}

func (s *InputSystem) acceptNew() {
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			s.store.Add(sess)
		default:
			return
		}
	}
}
