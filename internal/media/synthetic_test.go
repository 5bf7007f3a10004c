package media

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestSyntheticTracksAndToggles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewSynthetic(ctx, "test-stream")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if kind := s.AudioTrack().Kind(); kind != webrtc.RTPCodecTypeAudio {
		t.Fatalf("audio track kind = %s", kind)
	}
	if kind := s.VideoTrack().Kind(); kind != webrtc.RTPCodecTypeVideo {
		t.Fatalf("video track kind = %s", kind)
	}
	if !s.AudioEnabled() || !s.VideoEnabled() {
		t.Fatal("tracks not live at creation")
	}

	// Toggles are independent per kind.
	s.SetAudioEnabled(false)
	if s.AudioEnabled() {
		t.Fatal("audio still enabled after mute")
	}
	if !s.VideoEnabled() {
		t.Fatal("audio mute affected video")
	}

	s.SetAudioEnabled(true)
	if !s.AudioEnabled() {
		t.Fatal("audio not enabled after unmute")
	}
}

func TestScreenTrackStop(t *testing.T) {
	track, stop, err := NewScreenTrack(context.Background(), "test-stream")
	if err != nil {
		t.Fatal(err)
	}
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("screen track kind = %s", track.Kind())
	}
	stop()
	stop() // idempotent
}
