// Package app is the signaling relay service: it translates inbound
// control messages into store mutations and outbound fan-out.
package app

import (
	"sync"

	"github.com/vizioway/meet/internal/core"
	"github.com/vizioway/meet/internal/domain"
)

// Session binds one authenticated transport connection to its identity
// and current room. User and Conn are immutable after creation. roomID
// is written by the connection's own read loop but also read from a
// superseding connection's goroutine during a reconnect sweep, so it
// sits behind its own lock.
type Session struct {
	User domain.User
	Conn core.SignalConnection

	mu     sync.Mutex
	roomID domain.RoomID
}

func NewSession(user domain.User, conn core.SignalConnection) *Session {
	return &Session{User: user, Conn: conn}
}

// RoomID is the room this session has joined, or "" before any join.
func (s *Session) RoomID() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(id domain.RoomID) {
	s.mu.Lock()
	s.roomID = id
	s.mu.Unlock()
}
