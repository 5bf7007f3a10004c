// Package protocol defines the signaling wire format shared by the relay
// and the client. One JSON envelope per frame; the payload shape depends
// on Type.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/vizioway/meet/internal/domain"
)

// Message types, client→relay.
const (
	TypeJoinRoom         = "join-room"
	TypeSendOffer        = "send-offer"
	TypeSendAnswer       = "send-answer"
	TypeSendCandidate    = "send-ice-candidate"
	TypeSendMessage      = "send-message"
	TypeMediaStateChange = "media-state-change"
)

// Message types, relay→client.
const (
	TypeRoomParticipants = "room-participants"
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeReceiveOffer     = "receive-offer"
	TypeReceiveAnswer    = "receive-answer"
	TypeReceiveCandidate = "receive-ice-candidate"
	TypeReceiveMessage   = "receive-message"
	TypeUserMediaChange  = "user-media-change"
)

type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// JoinRoom is the client's join-room payload.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// ParticipantInfo is one roster entry in room-participants.
type ParticipantInfo struct {
	ID    domain.UserID `json:"id"`
	Name  string        `json:"name"`
	Video bool          `json:"video"`
	Audio bool          `json:"audio"`
}

type UserJoined struct {
	UserID domain.UserID `json:"userId"`
	Name   string        `json:"name"`
}

type UserLeft struct {
	UserID domain.UserID `json:"userId"`
}

// Signal carries offers, answers and ICE candidates. The relay forwards
// the SDP/candidate blob verbatim and overwrites From/FromName with the
// sender's authenticated identity; a client-supplied From is ignored.
type Signal struct {
	To        domain.UserID   `json:"to,omitempty"`
	From      domain.UserID   `json:"from,omitempty"`
	FromName  string          `json:"fromName,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ChatSend is the client's send-message payload.
type ChatSend struct {
	Text string `json:"text"`
}

// ChatMessage is the relay's receive-message payload, broadcast to the
// whole room including the sender.
type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   domain.UserID `json:"senderId"`
	SenderName string        `json:"senderName"`
	Text       string        `json:"text"`
	Timestamp  time.Time     `json:"timestamp"`
}

// MediaState is the client's media-state-change payload.
type MediaState struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// UserMediaChange is broadcast to the other room members, never echoed.
type UserMediaChange struct {
	UserID domain.UserID `json:"userId"`
	Video  bool          `json:"video"`
	Audio  bool          `json:"audio"`
}
