package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single peer connection. Network I/O runs in
// dedicated goroutines; protocol state is touched only from the tick loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32

	InQueue  chan []byte // tick loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here; nil closes

	IP       string
	PeerName string // node name from the version handshake

	// Server side: ghost list entries already sent. Client side: activated
	// count last acknowledged.
	Announced int
	// Server side: activated count the client acknowledged.
	Acked int
	// Server side: a list sync notice was sent at least once.
	ListSynced bool

	outBuf       [][]byte // buffered packets, flushed by the output system (tick loop only)
	disconnected bool     // a disconnect notice is queued

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int   // max packets/sec (0 = unlimited)
	pktCount   int   // packets received this second
	pktResetAt int64 // unix second of last counter reset

	writeTimeout time.Duration

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, inSize, outSize, pktPerSec int, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, inSize),
		OutQueue:     make(chan []byte, outSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pktPerSec:    pktPerSec,
		writeTimeout: 10 * time.Second,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

// SetWriteTimeout bounds each socket write. Call before Start.
func (s *Session) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		s.writeTimeout = d
	}
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet. It is not written until FlushOutput runs in the
// output phase. Tick loop only.
func (s *Session) Send(data []byte) {
	if s.closed.Load() || s.disconnected {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// Disconnect queues a disconnect notice; the connection closes once it has
// been written. Later calls are ignored.
func (s *Session) Disconnect(reason ghost.DisconnectReason) {
	if s.disconnected || s.closed.Load() {
		return
	}
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_DISCONNECT)
	w.WriteC(byte(reason))
	s.outBuf = append(s.outBuf, w.Bytes(), nil)
	s.disconnected = true
	s.SetState(packet.StateDisconnecting)
	s.log.Info("disconnecting peer", zap.String("reason", reason.String()))
}

// Disconnecting reports whether a disconnect notice is queued or sent.
func (s *Session) Disconnecting() bool {
	return s.disconnected || s.closed.Load()
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is closed (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, closing slow connection")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close shuts the session down immediately.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames from the connection and pushes them onto InQueue.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("packet rate exceeded, closing connection", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Block until InQueue has space or the session closes; ghost list
		// entries must not be dropped.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued packets as frames. A nil packet closes the session
// after everything before it was written.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if data == nil {
				return
			}
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// writeOnePacket writes one frame. It returns false on failure.
func (s *Session) writeOnePacket(data []byte) bool {
	s.log.Debug("TX",
		zap.String("op", fmt.Sprintf("0x%02X", data[0])),
		zap.Int("len", len(data)),
	)

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
