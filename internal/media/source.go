// Package media provides the local media tracks a client attaches to its
// peer connections. Mute is a flag on the existing track, never a
// renegotiation: the writer loop keeps the track alive and simply stops
// emitting payload while muted.
package media

import "github.com/pion/webrtc/v4"

// Source is one local capture device pair (microphone + camera, or
// their stand-ins). Acquisition happens in the constructor and may
// block; callers await it outside any message dispatch loop.
type Source interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Close()
}
