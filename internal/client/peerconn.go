// Package client is the meeting-client side of the system: a signaling
// connection to the relay and the orchestrator that maintains one peer
// connection per remote participant in a mesh.
package client

import "github.com/pion/webrtc/v4"

// PeerConn is the per-remote connection surface the orchestrator drives.
// The rtc adapter implements it over pion; tests substitute a fake.
type PeerConn interface {
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnStateChange(func(webrtc.PeerConnectionState))
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	ApplyOfferCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error
	ReplaceVideoTrack(webrtc.TrackLocal) error
	Close()
}

// PeerConnFactory builds a fresh connection for one remote participant.
type PeerConnFactory func() (PeerConn, error)

// SignalSender sends one typed message to the relay. Safe for
// concurrent use; candidate callbacks fire on transport goroutines.
type SignalSender interface {
	Send(typ string, payload any) error
}
