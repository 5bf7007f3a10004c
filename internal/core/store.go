package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/domain"
)

var (
	// ErrNotInRoom reports a point-to-point send whose sender or
	// recipient is not a member of the room.
	ErrNotInRoom = errors.New("participant not in room")
	// ErrNoRoom reports an operation against a room that does not exist.
	ErrNoRoom = errors.New("room does not exist")
)

// MemberView is a read-only roster entry (no transport fields).
type MemberView struct {
	User  domain.User
	Media domain.MediaState
}

// RoomInfo is a summary for the rooms listing API.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// LeaveResult reports what Leave actually did.
type LeaveResult struct {
	Removed     bool
	RoomDeleted bool
}

// PublishResult reports fan-out delivery and backpressure drops.
type PublishResult struct {
	Sent    int
	Dropped []domain.UserID
}

type member struct {
	user  domain.User
	conn  SignalConnection
	media domain.MediaState
}

// room is one membership set behind its own mutex. All mutation and the
// fan-out reads produced by that mutation happen inside the same critical
// section, so observers never see a torn roster.
type room struct {
	id      domain.RoomID
	mu      sync.Mutex
	closed  bool
	members map[domain.UserID]*member
}

// Store maps room ids to live rooms. A room exists iff it has at least
// one participant: created implicitly on first join, deleted on last
// leave. The outer lock guards only the map; room state has its own lock.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewStore() *Store {
	return &Store{rooms: make(map[domain.RoomID]*room)}
}

// getOrCreate returns a live (not closed) room, creating it if absent.
// Caller must lock the returned room and re-check closed.
func (s *Store) getOrCreate(id domain.RoomID) *room {
	s.mu.RLock()
	r := s.rooms[id]
	s.mu.RUnlock()
	if r != nil {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rooms[id]; r == nil {
		r = &room{id: id, members: make(map[domain.UserID]*member)}
		s.rooms[id] = r
	}
	return r
}

func (s *Store) get(id domain.RoomID) *room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id]
}

// drop removes r from the map if it is still the current entry.
func (s *Store) drop(r *room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.rooms[r.id]; cur == r {
		delete(s.rooms, r.id)
	}
}

// Join inserts the participant, creating the room if absent. Rejoining
// with the same user id replaces the stale entry, which covers
// reconnect-without-clean-leave. Inside the room's critical section it
// enqueues joined to every other member, builds the roster of those
// others, and enqueues rosterFn(roster) to the joiner; a participant can
// therefore never observe a user-joined for a peer missing from its own
// roster snapshot.
func (s *Store) Join(
	id domain.RoomID,
	user domain.User,
	conn SignalConnection,
	media domain.MediaState,
	joined Frame,
	rosterFn func([]MemberView) Frame,
) []MemberView {
	for {
		r := s.getOrCreate(id)
		r.mu.Lock()
		if r.closed {
			// Lost a race with last-leave deletion; the map entry is
			// gone or about to be, so take a fresh room.
			r.mu.Unlock()
			continue
		}
		others := make([]MemberView, 0, len(r.members))
		for uid, m := range r.members {
			if uid == user.ID {
				continue
			}
			others = append(others, MemberView{User: m.user, Media: m.media})
			if joined != nil {
				if err := m.conn.TrySend(joined); err != nil {
					log.Warn().Str("module", "core.store").Str("room", string(id)).
						Str("user", string(uid)).Err(err).Msg("joined broadcast dropped")
				}
			}
		}
		r.members[user.ID] = &member{user: user, conn: conn, media: media}
		if roster := rosterFn(others); roster != nil {
			if err := conn.TrySend(roster); err != nil {
				log.Warn().Str("module", "core.store").Str("room", string(id)).
					Str("user", string(user.ID)).Err(err).Msg("roster send dropped")
			}
		}
		r.mu.Unlock()
		log.Info().Str("module", "core.store").Str("room", string(id)).
			Str("user", string(user.ID)).Int("peers", len(others)).Msg("participant joined")
		return others
	}
}

// Leave removes the participant and broadcasts left to the remaining
// members. Deletes the room when it becomes empty. No-op if the room or
// the participant does not exist.
func (s *Store) Leave(id domain.RoomID, uid domain.UserID, left Frame) LeaveResult {
	r := s.get(id)
	if r == nil {
		return LeaveResult{}
	}
	r.mu.Lock()
	if _, ok := r.members[uid]; !ok {
		r.mu.Unlock()
		return LeaveResult{}
	}
	delete(r.members, uid)
	for ruid, m := range r.members {
		if err := m.conn.TrySend(left); err != nil {
			log.Warn().Str("module", "core.store").Str("room", string(id)).
				Str("user", string(ruid)).Err(err).Msg("left broadcast dropped")
		}
	}
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()
	if empty {
		s.drop(r)
		log.Info().Str("module", "core.store").Str("room", string(id)).Msg("room deleted, empty")
	}
	return LeaveResult{Removed: true, RoomDeleted: empty}
}

// RoomsOf returns every room currently containing the participant. Used
// to sweep membership after a transport-level disconnect that carried no
// explicit leave.
func (s *Store) RoomsOf(uid domain.UserID) []domain.RoomID {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	var out []domain.RoomID
	for _, r := range rooms {
		r.mu.Lock()
		if _, ok := r.members[uid]; ok && !r.closed {
			out = append(out, r.id)
		}
		r.mu.Unlock()
	}
	return out
}

// SendTo forwards a frame to one member, validating under the room lock
// that both sender and recipient occupy the room. Routing failures leave
// the recipient's state untouched.
func (s *Store) SendTo(id domain.RoomID, from, to domain.UserID, f Frame) error {
	r := s.get(id)
	if r == nil {
		return ErrNoRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[from]; !ok {
		return ErrNotInRoom
	}
	dst, ok := r.members[to]
	if !ok {
		return ErrNotInRoom
	}
	return dst.conn.TrySend(f)
}

// Broadcast fans a frame out to the room. The sender is included only
// when includeSender is set (chat messages are; media-state changes are
// not). Sends are non-blocking: a slow consumer drops the frame rather
// than stalling the room.
func (s *Store) Broadcast(id domain.RoomID, from domain.UserID, f Frame, includeSender bool) PublishResult {
	r := s.get(id)
	if r == nil {
		return PublishResult{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	for uid, m := range r.members {
		if uid == from && !includeSender {
			continue
		}
		if err := m.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, uid)
			continue
		}
		res.Sent++
	}
	return res
}

// SetMedia updates a participant's advisory media state.
func (s *Store) SetMedia(id domain.RoomID, uid domain.UserID, media domain.MediaState) bool {
	r := s.get(id)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[uid]
	if !ok {
		return false
	}
	m.media = media
	return true
}

// Members returns a point-in-time roster snapshot.
func (s *Store) Members(id domain.RoomID) []MemberView {
	r := s.get(id)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberView, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, MemberView{User: m.user, Media: m.media})
	}
	return out
}

// Rooms lists live rooms with member counts.
func (s *Store) Rooms() []RoomInfo {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		n := len(r.members)
		closed := r.closed
		r.mu.Unlock()
		if !closed {
			out = append(out, RoomInfo{ID: r.id, MemberCount: n})
		}
	}
	return out
}
