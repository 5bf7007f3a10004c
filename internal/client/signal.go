package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Signal is the client's persistent connection to the relay. It decodes
// inbound frames into envelopes for the orchestrator and serializes
// outbound sends from any goroutine.
type Signal struct {
	conn *websocket.Conn
	in   chan protocol.Envelope
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// Dial connects and authenticates. The bearer token rides as a query
// parameter, the WebSocket equivalent of an Authorization header. A
// rejected token surfaces as a failed dial (the relay refuses the
// upgrade with 401).
func Dial(ctx context.Context, serverURL, token string) (*Signal, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/signal"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect rejected (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	s := &Signal{
		conn: conn,
		in:   make(chan protocol.Envelope, 32),
		out:  make(chan []byte, 32),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go s.readPump()
	go s.writePump()
	return s, nil
}

// Inbound is the stream the orchestrator consumes. Closed on disconnect.
func (s *Signal) Inbound() <-chan protocol.Envelope { return s.in }

// Send encodes and queues one message.
func (s *Signal) Send(typ string, payload any) error {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	select {
	case s.out <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("signaling connection closed")
	}
}

func (s *Signal) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Signal) readPump() {
	defer func() {
		s.Close()
		close(s.in)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.signal").Msg("read loop ended")
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client.signal").Msg("bad frame dropped")
			continue
		}
		select {
		case s.in <- env:
		case <-s.done:
			return
		}
	}
}

func (s *Signal) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
