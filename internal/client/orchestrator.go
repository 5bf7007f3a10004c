package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/media"
	"github.com/vizioway/meet/internal/protocol"
)

// Orchestrator maintains one PeerLink per remote participant, driven by
// relay messages and local commands. All link state transitions happen
// on the single Run goroutine; public methods post commands into it.
//
// Initiator rule: the client that observes user-joined always sends the
// offer; the newly joined client answers the roster it received. Both
// sides agree on who offers, so simultaneous offers cannot happen.
type Orchestrator struct {
	self    domain.User
	sig     SignalSender
	inbound <-chan protocol.Envelope
	newConn PeerConnFactory
	source  media.Source

	links   map[domain.UserID]*PeerLink
	history []protocol.ChatMessage

	cmds    chan func()
	stopped chan struct{}
	log     zerolog.Logger

	screenStop func()

	onPeerConnected []func(domain.UserID, string)
	onPeerClosed    []func(domain.UserID)
	onChat          []func(protocol.ChatMessage)
	onPeerMedia     []func(protocol.UserMediaChange)
	onRemoteTrack   []func(domain.UserID, *webrtc.TrackRemote)
}

// NewOrchestrator wires the orchestrator. source may be nil when media
// acquisition failed; the client then joins signaling-only (degraded)
// rather than not at all.
func NewOrchestrator(self domain.User, sig SignalSender, inbound <-chan protocol.Envelope,
	factory PeerConnFactory, source media.Source) *Orchestrator {
	return &Orchestrator{
		self:    self,
		sig:     sig,
		inbound: inbound,
		newConn: factory,
		source:  source,
		links:   make(map[domain.UserID]*PeerLink),
		cmds:    make(chan func(), 16),
		stopped: make(chan struct{}),
		log:     log.With().Str("module", "client.orch").Str("self", string(self.ID)).Logger(),
	}
}

// Handler registration. Register before Run; callbacks fire on the Run
// goroutine except OnRemoteTrack, which fires on the transport's.
func (o *Orchestrator) OnPeerConnected(fn func(id domain.UserID, name string)) {
	o.onPeerConnected = append(o.onPeerConnected, fn)
}
func (o *Orchestrator) OnPeerClosed(fn func(id domain.UserID)) {
	o.onPeerClosed = append(o.onPeerClosed, fn)
}
func (o *Orchestrator) OnChat(fn func(protocol.ChatMessage)) {
	o.onChat = append(o.onChat, fn)
}
func (o *Orchestrator) OnPeerMedia(fn func(protocol.UserMediaChange)) {
	o.onPeerMedia = append(o.onPeerMedia, fn)
}
func (o *Orchestrator) OnRemoteTrack(fn func(domain.UserID, *webrtc.TrackRemote)) {
	o.onRemoteTrack = append(o.onRemoteTrack, fn)
}

// Run is the event loop. Returns when ctx is cancelled or the inbound
// channel closes (signaling connection gone).
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	for {
		select {
		case <-ctx.Done():
			o.teardownAll()
			return ctx.Err()
		case env, ok := <-o.inbound:
			if !ok {
				o.teardownAll()
				return nil
			}
			o.handle(env)
		case fn := <-o.cmds:
			fn()
		}
	}
}

// post schedules fn on the loop; no-op once the loop has stopped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stopped:
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func()) bool {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-o.stopped:
		return false
	}
}

// ---- public operations ----

// JoinRoom asks the relay to place this client in the room. The roster
// reply drives PeerLink creation.
func (o *Orchestrator) JoinRoom(roomID domain.RoomID) error {
	return o.sig.Send(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: string(roomID)})
}

// SendChat relays a chat message; the authoritative copy comes back as
// receive-message.
func (o *Orchestrator) SendChat(text string) error {
	return o.sig.Send(protocol.TypeSendMessage, protocol.ChatSend{Text: text})
}

// SetAudio and SetVideo toggle the mute flag on the local track and
// advertise the change. Deliberately no renegotiation: mute state is
// decoupled from connection-level signaling.
func (o *Orchestrator) SetAudio(on bool) {
	o.post(func() {
		if o.source == nil {
			return
		}
		o.source.SetAudioEnabled(on)
		o.advertiseMedia()
	})
}

func (o *Orchestrator) SetVideo(on bool) {
	o.post(func() {
		if o.source == nil {
			return
		}
		o.source.SetVideoEnabled(on)
		o.advertiseMedia()
	})
}

func (o *Orchestrator) advertiseMedia() {
	_ = o.sig.Send(protocol.TypeMediaStateChange, protocol.MediaState{
		Video: o.source.VideoEnabled(),
		Audio: o.source.AudioEnabled(),
	})
}

// StartScreenShare swaps the outgoing video track for the screen track
// on every live link. stop is retained and invoked when the share ends.
// The track was acquired by the caller, so a slow capture never stalls
// message dispatch.
func (o *Orchestrator) StartScreenShare(track webrtc.TrackLocal, stop func()) {
	o.post(func() {
		if o.screenStop != nil {
			o.screenStop()
		}
		o.screenStop = stop
		o.swapVideoTrack(track)
	})
}

// StopScreenShare restores the camera track.
func (o *Orchestrator) StopScreenShare() {
	o.post(func() {
		if o.screenStop != nil {
			o.screenStop()
			o.screenStop = nil
		}
		if o.source != nil {
			o.swapVideoTrack(o.source.VideoTrack())
		}
	})
}

// Leave tears down every PeerLink and stops local media before
// returning, so a fast re-join cannot race a slow teardown.
func (o *Orchestrator) Leave() {
	o.call(func() {
		var wg sync.WaitGroup
		for id, link := range o.links {
			wg.Add(1)
			go func(l *PeerLink) {
				defer wg.Done()
				l.close()
			}(link)
			delete(o.links, id)
		}
		wg.Wait()
		if o.screenStop != nil {
			o.screenStop()
			o.screenStop = nil
		}
		if o.source != nil {
			o.source.Close()
		}
	})
}

// History returns the client-local chat history.
func (o *Orchestrator) History() []protocol.ChatMessage {
	var out []protocol.ChatMessage
	o.call(func() {
		out = append(out, o.history...)
	})
	return out
}

// Links reports remote id → state, for UI and tests.
func (o *Orchestrator) Links() map[domain.UserID]LinkState {
	out := make(map[domain.UserID]LinkState)
	o.call(func() {
		for id, l := range o.links {
			out[id] = l.state
		}
	})
	return out
}

// ---- inbound message handling ----

func (o *Orchestrator) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomParticipants:
		var roster []protocol.ParticipantInfo
		if err := json.Unmarshal(env.Payload, &roster); err != nil {
			o.log.Warn().Err(err).Msg("bad roster payload")
			return
		}
		o.handleRoster(roster)
	case protocol.TypeUserJoined:
		var p protocol.UserJoined
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.handleUserJoined(p)
	case protocol.TypeUserLeft:
		var p protocol.UserLeft
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.handleUserLeft(p.UserID)
	case protocol.TypeReceiveOffer:
		var p protocol.Signal
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.handleOffer(p)
	case protocol.TypeReceiveAnswer:
		var p protocol.Signal
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.handleAnswer(p)
	case protocol.TypeReceiveCandidate:
		var p protocol.Signal
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.handleCandidate(p)
	case protocol.TypeReceiveMessage:
		var p protocol.ChatMessage
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		o.history = append(o.history, p)
		for _, fn := range o.onChat {
			fn(p)
		}
	case protocol.TypeUserMediaChange:
		var p protocol.UserMediaChange
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		for _, fn := range o.onPeerMedia {
			fn(p)
		}
	default:
		o.log.Warn().Str("type", env.Type).Msg("unknown relay message")
	}
}

// handleRoster creates Idle links for everyone already present. As the
// newly joined side we answer their offers; we never initiate here.
func (o *Orchestrator) handleRoster(roster []protocol.ParticipantInfo) {
	for _, p := range roster {
		if p.ID == o.self.ID {
			continue
		}
		if _, known := o.links[p.ID]; known {
			continue
		}
		o.links[p.ID] = &PeerLink{remoteID: p.ID, remoteName: p.Name, state: LinkIdle}
		o.log.Info().Str("peer", string(p.ID)).Msg("awaiting offer from present participant")
	}
}

// handleUserJoined creates the link and offers: the observer is always
// the initiator toward the arriving participant.
func (o *Orchestrator) handleUserJoined(p protocol.UserJoined) {
	if p.UserID == o.self.ID {
		return
	}
	if old, known := o.links[p.UserID]; known {
		// Remote rejoined before we saw it leave; restart cleanly.
		old.close()
		delete(o.links, p.UserID)
		o.emitPeerClosed(p.UserID)
	}
	link := &PeerLink{remoteID: p.UserID, remoteName: p.Name, state: LinkIdle, initiator: true}
	o.links[p.UserID] = link
	o.startOffer(link)
}

func (o *Orchestrator) handleUserLeft(id domain.UserID) {
	link, ok := o.links[id]
	if !ok {
		return
	}
	link.close()
	delete(o.links, id)
	o.emitPeerClosed(id)
}

func (o *Orchestrator) handleOffer(p protocol.Signal) {
	link, ok := o.links[p.From]
	if !ok {
		link = &PeerLink{remoteID: p.From, remoteName: p.FromName, state: LinkIdle}
		o.links[p.From] = link
	}
	if link.remoteName == "" {
		link.remoteName = p.FromName
	}

	switch link.state {
	case LinkIdle:
		o.answerOffer(link, p.Offer)
	case LinkConnected:
		// Remote-initiated renegotiation (e.g. its screen-share needed
		// a fresh exchange). Apply on the existing connection.
		o.answerOffer(link, p.Offer)
	case LinkClosed:
		o.log.Warn().Str("peer", string(p.From)).Msg("offer for closed link dropped")
	default:
		// Cannot happen under the initiator rule; drop rather than
		// fight over roles.
		o.log.Warn().Str("peer", string(p.From)).Stringer("state", link.state).
			Msg("unexpected offer dropped")
	}
}

func (o *Orchestrator) handleAnswer(p protocol.Signal) {
	link, ok := o.links[p.From]
	if !ok || link.state != LinkAnswerPending {
		o.log.Warn().Str("peer", string(p.From)).Msg("unexpected answer dropped")
		return
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(p.Answer, &sd); err != nil {
		o.negotiationFailed(link, err)
		return
	}
	if err := link.conn.ApplyAnswer(sd); err != nil {
		o.negotiationFailed(link, err)
		return
	}
	link.remoteSet = true
	for _, err := range link.flushCandidates() {
		o.log.Warn().Err(err).Str("peer", string(p.From)).Msg("buffered candidate rejected")
	}
	o.connected(link)
}

// handleCandidate applies the candidate in any state except Closed,
// buffering until the remote description is in place.
func (o *Orchestrator) handleCandidate(p protocol.Signal) {
	link, ok := o.links[p.From]
	if !ok || link.state == LinkClosed {
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Candidate, &ci); err != nil {
		o.log.Warn().Err(err).Str("peer", string(p.From)).Msg("bad candidate dropped")
		return
	}
	if !link.remoteSet || link.conn == nil {
		link.pending = append(link.pending, ci)
		return
	}
	if err := link.conn.AddICECandidate(ci); err != nil {
		o.log.Warn().Err(err).Str("peer", string(p.From)).Msg("candidate rejected")
	}
}

// ---- negotiation ----

func (o *Orchestrator) buildConn(link *PeerLink) error {
	conn, err := o.newConn()
	if err != nil {
		return err
	}
	link.conn = conn
	remoteID := link.remoteID

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		raw, err := json.Marshal(ci)
		if err != nil {
			return
		}
		_ = o.sig.Send(protocol.TypeSendCandidate, protocol.Signal{To: remoteID, Candidate: raw})
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		for _, fn := range o.onRemoteTrack {
			fn(remoteID, track)
		}
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			// Hop onto the loop; pion fires this on its own goroutine.
			go o.post(func() { o.peerFailed(remoteID) })
		}
	})

	if o.source != nil {
		if _, err := conn.AddTrack(o.source.AudioTrack()); err != nil {
			o.log.Warn().Err(err).Str("peer", string(remoteID)).Msg("attach audio failed")
		}
		if _, err := conn.AddTrack(o.source.VideoTrack()); err != nil {
			o.log.Warn().Err(err).Str("peer", string(remoteID)).Msg("attach video failed")
		}
	}
	return nil
}

func (o *Orchestrator) startOffer(link *PeerLink) {
	link.state = LinkOffering
	if link.conn == nil {
		if err := o.buildConn(link); err != nil {
			o.negotiationFailed(link, err)
			return
		}
	}
	o.sendOffer(link)
}

func (o *Orchestrator) sendOffer(link *PeerLink) {
	offer, err := link.conn.CreateOffer()
	if err != nil {
		o.negotiationFailed(link, err)
		return
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		o.negotiationFailed(link, err)
		return
	}
	if err := o.sig.Send(protocol.TypeSendOffer, protocol.Signal{To: link.remoteID, Offer: raw}); err != nil {
		o.negotiationFailed(link, err)
		return
	}
	link.state = LinkAnswerPending
}

func (o *Orchestrator) answerOffer(link *PeerLink, rawOffer json.RawMessage) {
	renegotiating := link.state == LinkConnected
	link.state = LinkAnswering
	if link.conn == nil {
		if err := o.buildConn(link); err != nil {
			o.negotiationFailed(link, err)
			return
		}
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(rawOffer, &sd); err != nil {
		o.negotiationFailed(link, err)
		return
	}
	answer, err := link.conn.ApplyOfferCreateAnswer(sd)
	if err != nil {
		o.negotiationFailed(link, err)
		return
	}
	link.remoteSet = true
	for _, err := range link.flushCandidates() {
		o.log.Warn().Err(err).Str("peer", string(link.remoteID)).Msg("buffered candidate rejected")
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		o.negotiationFailed(link, err)
		return
	}
	if err := o.sig.Send(protocol.TypeSendAnswer, protocol.Signal{To: link.remoteID, Answer: raw}); err != nil {
		o.negotiationFailed(link, err)
		return
	}
	if renegotiating {
		link.state = LinkConnected
		return
	}
	o.connected(link)
}

func (o *Orchestrator) connected(link *PeerLink) {
	link.state = LinkConnected
	if link.announced {
		return
	}
	link.announced = true
	o.log.Info().Str("peer", string(link.remoteID)).Msg("peer link connected")
	for _, fn := range o.onPeerConnected {
		fn(link.remoteID, link.remoteName)
	}
}

// negotiationFailed retries the Offering step once on the initiator
// side, then discards the link. Failure never touches sibling links.
func (o *Orchestrator) negotiationFailed(link *PeerLink, err error) {
	o.log.Error().Err(err).Str("peer", string(link.remoteID)).
		Stringer("state", link.state).Msg("negotiation failed")
	if link.initiator && !link.retried {
		link.retried = true
		if link.conn != nil {
			link.conn.Close()
			link.conn = nil
		}
		link.remoteSet = false
		link.pending = nil
		link.state = LinkIdle
		o.log.Info().Str("peer", string(link.remoteID)).Msg("retrying offer")
		o.startOffer(link)
		return
	}
	link.close()
	delete(o.links, link.remoteID)
	o.emitPeerClosed(link.remoteID)
}

func (o *Orchestrator) peerFailed(id domain.UserID) {
	link, ok := o.links[id]
	if !ok || link.state == LinkClosed {
		return
	}
	o.negotiationFailed(link, errConnFailed)
}

// swapVideoTrack replaces the outgoing video in place; when the
// transport cannot substitute (no video sender yet), it falls back to a
// fresh offer from Connected. Both paths end in Connected.
func (o *Orchestrator) swapVideoTrack(track webrtc.TrackLocal) {
	for _, link := range o.links {
		if link.state != LinkConnected || link.conn == nil {
			continue
		}
		if err := link.conn.ReplaceVideoTrack(track); err != nil {
			o.log.Info().Err(err).Str("peer", string(link.remoteID)).
				Msg("in-place track swap unavailable, renegotiating")
			if _, err := link.conn.AddTrack(track); err != nil {
				o.log.Warn().Err(err).Str("peer", string(link.remoteID)).Msg("add track failed")
				continue
			}
			link.state = LinkOffering
			o.sendOffer(link)
		}
	}
}

func (o *Orchestrator) teardownAll() {
	for id, link := range o.links {
		link.close()
		delete(o.links, id)
	}
	if o.screenStop != nil {
		o.screenStop()
		o.screenStop = nil
	}
	if o.source != nil {
		o.source.Close()
	}
}

func (o *Orchestrator) emitPeerClosed(id domain.UserID) {
	for _, fn := range o.onPeerClosed {
		fn(id)
	}
}
