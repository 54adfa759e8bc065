package net

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Dial connects to a server and starts a session for it. The session ID of
// the client's only connection is always 1.
func Dial(ctx context.Context, addr string, timeout time.Duration, inSize, outSize int, log *zap.Logger) (*Session, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sess := NewSession(conn, 1, inSize, outSize, 0, log)
	sess.Start()
	log.Info("connected to server", zap.String("addr", addr))
	return sess, nil
}
