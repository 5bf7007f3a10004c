package client

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/vizioway/meet/internal/domain"
)

var errConnFailed = errors.New("peer connection failed")

// LinkState is the negotiation state of one PeerLink.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOffering
	LinkAnswerPending
	LinkAnswering
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAnswerPending:
		return "answer-pending"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerLink is the local state for one remote participant. All fields are
// touched only from the orchestrator's event loop.
type PeerLink struct {
	remoteID   domain.UserID
	remoteName string
	state      LinkState
	conn       PeerConn

	// Candidates that arrived before the remote description; flushed
	// once it is applied.
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	// initiator marks the offer-sender side (the client that observed
	// the remote joining). Only the initiator retries a failed offer.
	initiator bool
	retried   bool
	announced bool
}

func (l *PeerLink) RemoteID() domain.UserID { return l.remoteID }
func (l *PeerLink) RemoteName() string      { return l.remoteName }
func (l *PeerLink) State() LinkState        { return l.state }

// flushCandidates applies buffered candidates after the remote
// description lands. Individual failures are non-fatal.
func (l *PeerLink) flushCandidates() []error {
	var errs []error
	for _, ci := range l.pending {
		if err := l.conn.AddICECandidate(ci); err != nil {
			errs = append(errs, err)
		}
	}
	l.pending = nil
	return errs
}

func (l *PeerLink) close() {
	if l.state == LinkClosed {
		return
	}
	l.state = LinkClosed
	l.pending = nil
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
