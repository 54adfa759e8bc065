package net

import (
	"sync/atomic"

	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net/packet"
)

// ServerPeers presents the server's sessions to the collection loop. The
// server is in game for as long as it listens. Sessions count as
// connections from the handshake until they are closed.
type ServerPeers struct {
	store     *SessionStore
	listening atomic.Bool
}

func NewServerPeers(store *SessionStore) *ServerPeers {
	p := &ServerPeers{store: store}
	p.listening.Store(true)
	return p
}

// Stop ends the session; the collection resets on its next tick.
func (p *ServerPeers) Stop() { p.listening.Store(false) }

func (p *ServerPeers) InGame() bool  { return p.listening.Load() }
func (p *ServerPeers) Loading() bool { return false }

func (p *ServerPeers) Connections() []uint64 {
	return liveConnections(p.store)
}

func (p *ServerPeers) RequestDisconnect(id uint64, reason ghost.DisconnectReason) {
	if s := p.store.Get(id); s != nil {
		s.Disconnect(reason)
	}
}

// ClientPeers presents the client's single server connection. The client is
// in game once the version handshake succeeded and loading until the server
// reports its ghost list is in sync.
type ClientPeers struct {
	store   *SessionStore
	inGame  atomic.Bool
	loading atomic.Bool
}

func NewClientPeers(store *SessionStore) *ClientPeers {
	return &ClientPeers{store: store}
}

// Joined marks the handshake as complete.
func (p *ClientPeers) Joined() {
	p.loading.Store(true)
	p.inGame.Store(true)
}

// Synced marks the server's ghost list as complete for now.
func (p *ClientPeers) Synced() { p.loading.Store(false) }

// Left ends the session.
func (p *ClientPeers) Left() {
	p.inGame.Store(false)
	p.loading.Store(false)
}

func (p *ClientPeers) InGame() bool  { return p.inGame.Load() }
func (p *ClientPeers) Loading() bool { return p.loading.Load() }

func (p *ClientPeers) Connections() []uint64 {
	return liveConnections(p.store)
}

// RequestDisconnect tells the server why the client leaves, then closes.
func (p *ClientPeers) RequestDisconnect(id uint64, reason ghost.DisconnectReason) {
	if s := p.store.Get(id); s != nil {
		s.Disconnect(reason)
	}
}

func liveConnections(store *SessionStore) []uint64 {
	var ids []uint64
	store.ForEach(func(s *Session) {
		if s.State() != packet.StateHandshake && !s.IsClosed() {
			ids = append(ids, s.ID)
		}
	})
	return ids
}
