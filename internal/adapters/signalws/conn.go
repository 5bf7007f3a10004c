// Package signalws terminates the persistent signaling connections: it
// upgrades authenticated HTTP requests, runs the read/write pumps and
// dispatches decoded messages into the relay service.
package signalws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vizioway/meet/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn is the transport endpoint stored in the room registry. TrySend
// never blocks: a full buffer is the caller's signal to drop the frame.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	return &wsConn{conn: conn, send: make(chan core.Frame, buffer)}
}

func (c *wsConn) TrySend(f core.Frame) error {
	if f == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}
