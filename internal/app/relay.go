package app

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/core"
	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/protocol"
)

// Relay implements the signaling message contract on top of the store.
// Malformed or out-of-contract messages are dropped with a local log;
// they never take down the connection or another room's state.
type Relay struct {
	store *core.Store
	reg   *Registry
	log   zerolog.Logger

	// Injection points for tests.
	now   func() time.Time
	newID func() string
}

func NewRelay(store *core.Store) *Relay {
	return &Relay{
		store: store,
		reg:   NewRegistry(),
		log:   log.With().Str("module", "app.relay").Logger(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (r *Relay) Store() *core.Store { return r.store }

func (r *Relay) encode(typ string, payload any) core.Frame {
	f, err := protocol.Encode(typ, payload)
	if err != nil {
		r.log.Error().Err(err).Str("type", typ).Msg("encode failed")
		return nil
	}
	return f
}

// HandleJoin executes join-room: replace any previous membership, insert
// into the target room, reply with the roster and announce the arrival.
// Roster reply and user-joined broadcast are enqueued atomically by the
// store, so the joiner can never miss a roster entry.
func (r *Relay) HandleJoin(sess *Session, roomID domain.RoomID) {
	if roomID == "" {
		r.log.Warn().Str("user", string(sess.User.ID)).Msg("join-room without roomId dropped")
		return
	}

	if prev := r.reg.Bind(sess); prev != nil {
		// Reconnect without clean leave. The store's idempotent join
		// replaces the same-room entry; a different previous room still
		// needs an explicit sweep.
		if old := prev.RoomID(); old != "" && old != roomID {
			r.store.Leave(old, prev.User.ID, r.encode(protocol.TypeUserLeft,
				protocol.UserLeft{UserID: prev.User.ID}))
		}
		prev.Conn.Close()
	}

	if old := sess.RoomID(); old != "" && old != roomID {
		r.store.Leave(old, sess.User.ID, r.encode(protocol.TypeUserLeft,
			protocol.UserLeft{UserID: sess.User.ID}))
	}

	joined := r.encode(protocol.TypeUserJoined, protocol.UserJoined{
		UserID: sess.User.ID,
		Name:   sess.User.Name,
	})
	r.store.Join(roomID, sess.User, sess.Conn, domain.MediaState{Video: true, Audio: true},
		joined, func(others []core.MemberView) core.Frame {
			roster := make([]protocol.ParticipantInfo, 0, len(others))
			for _, m := range others {
				roster = append(roster, protocol.ParticipantInfo{
					ID:    m.User.ID,
					Name:  m.User.Name,
					Video: m.Media.Video,
					Audio: m.Media.Audio,
				})
			}
			return r.encode(protocol.TypeRoomParticipants, roster)
		})
	sess.setRoom(roomID)
}

// HandleSignal relays send-offer, send-answer and send-ice-candidate
// point to point. The sender identity is attached server-side; the blob
// is forwarded verbatim. Unknown or non-co-resident recipients are a
// RoutingFailure: dropped, logged, no observable effect on anyone.
func (r *Relay) HandleSignal(sess *Session, typ string, payload json.RawMessage) {
	var in protocol.Signal
	if err := json.Unmarshal(payload, &in); err != nil {
		r.log.Warn().Err(err).Str("type", typ).Msg("bad signal payload dropped")
		return
	}
	roomID := sess.RoomID()
	if in.To == "" || roomID == "" {
		r.log.Warn().Str("type", typ).Str("from", string(sess.User.ID)).
			Msg("signal without recipient or room dropped")
		return
	}

	out := protocol.Signal{From: sess.User.ID}
	var outType string
	switch typ {
	case protocol.TypeSendOffer:
		outType = protocol.TypeReceiveOffer
		out.FromName = sess.User.Name
		out.Offer = in.Offer
	case protocol.TypeSendAnswer:
		outType = protocol.TypeReceiveAnswer
		out.Answer = in.Answer
	case protocol.TypeSendCandidate:
		outType = protocol.TypeReceiveCandidate
		out.Candidate = in.Candidate
	default:
		r.log.Warn().Str("type", typ).Msg("unknown signal type dropped")
		return
	}

	if err := r.store.SendTo(roomID, sess.User.ID, in.To, r.encode(outType, out)); err != nil {
		r.log.Warn().Err(err).Str("type", typ).Str("from", string(sess.User.ID)).
			Str("to", string(in.To)).Str("room", string(roomID)).Msg("signal routing failed")
	}
}

// HandleChat assigns the message id and timestamp server-side and
// broadcasts to the whole room, sender included, so every client renders
// the one authoritative copy.
func (r *Relay) HandleChat(sess *Session, text string) {
	roomID := sess.RoomID()
	if text == "" || roomID == "" {
		return
	}
	msg := protocol.ChatMessage{
		ID:         r.newID(),
		SenderID:   sess.User.ID,
		SenderName: sess.User.Name,
		Text:       text,
		Timestamp:  r.now().UTC(),
	}
	res := r.store.Broadcast(roomID, sess.User.ID, r.encode(protocol.TypeReceiveMessage, msg), true)
	if len(res.Dropped) > 0 {
		r.log.Warn().Str("room", string(roomID)).Int("dropped", len(res.Dropped)).
			Msg("chat fan-out dropped for slow consumers")
	}
}

// HandleMediaState records the toggles and notifies the other members.
// Never echoed to the sender.
func (r *Relay) HandleMediaState(sess *Session, state protocol.MediaState) {
	roomID := sess.RoomID()
	if roomID == "" {
		return
	}
	r.store.SetMedia(roomID, sess.User.ID, domain.MediaState{Video: state.Video, Audio: state.Audio})
	r.store.Broadcast(roomID, sess.User.ID, r.encode(protocol.TypeUserMediaChange,
		protocol.UserMediaChange{UserID: sess.User.ID, Video: state.Video, Audio: state.Audio}), false)
}

// HandleDisconnect sweeps all rooms containing the participant and tells
// the remaining members. Safe to call after an explicit leave, and a
// no-op for a session already superseded by a reconnect.
func (r *Relay) HandleDisconnect(sess *Session) {
	defer sess.Conn.Close()
	if !r.reg.Release(sess) {
		return
	}
	left := r.encode(protocol.TypeUserLeft, protocol.UserLeft{UserID: sess.User.ID})
	for _, roomID := range r.store.RoomsOf(sess.User.ID) {
		res := r.store.Leave(roomID, sess.User.ID, left)
		r.log.Info().Str("user", string(sess.User.ID)).Str("room", string(roomID)).
			Bool("room_deleted", res.RoomDeleted).Msg("disconnect sweep")
	}
	sess.setRoom("")
}
