package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	frameInterval = 20 * time.Millisecond

	audioClockRate = 48000
	videoClockRate = 90000

	// Opus DTX silence frame.
	opusSilence = 0xF8
)

type trackState = int32

const (
	trackLive trackState = iota
	trackMuted
	trackStopped
)

// outTrack owns one TrackLocalStaticRTP and its writer loop. State is
// flipped atomically from the orchestrator goroutine while the loop
// keeps its own pace.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32

	ssrc      uint32
	seq       uint16
	timestamp uint32
	clockStep uint32
	payload   []byte
}

func newOutTrack(codec webrtc.RTPCodecCapability, id, stream string, clockStep uint32, payload []byte) (*outTrack, error) {
	t, err := webrtc.NewTrackLocalStaticRTP(codec, id, stream)
	if err != nil {
		return nil, fmt.Errorf("create local track %s: %w", id, err)
	}
	return &outTrack{
		track:     t,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		clockStep: clockStep,
		payload:   payload,
	}, nil
}

// loop emits one packet per frame interval. Muted tracks advance their
// RTP clock without emitting, so unmute resumes with sane timestamps.
func (o *outTrack) loop(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.state.Store(trackStopped)
			return
		case <-ticker.C:
		}
		o.seq++
		o.timestamp += o.clockStep
		switch o.state.Load() {
		case trackStopped:
			return
		case trackMuted:
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: o.seq,
				Timestamp:      o.timestamp,
				SSRC:           o.ssrc,
			},
			Payload: o.payload,
		}
		if err := o.track.WriteRTP(pkt); err != nil {
			log.Error().Err(err).Str("module", "media").Str("track", o.track.ID()).
				Msg("write RTP failed, stopping track loop")
			o.state.Store(trackStopped)
			return
		}
	}
}

// Synthetic is a camera/microphone stand-in for headless clients: an
// Opus silence track and a VP8 filler track, each driven by its own
// writer loop.
type Synthetic struct {
	audio  *outTrack
	video  *outTrack
	cancel context.CancelFunc
}

func NewSynthetic(ctx context.Context, stream string) (*Synthetic, error) {
	audio, err := newOutTrack(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: 2,
	}, "audio", stream, audioClockRate/50, []byte{opusSilence, 0xFF, 0xFE})
	if err != nil {
		return nil, err
	}
	video, err := newOutTrack(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate,
	}, "video", stream, videoClockRate/50, []byte{0x10, 0x00, 0x9d, 0x01, 0x2a})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Synthetic{audio: audio, video: video, cancel: cancel}
	go audio.loop(ctx)
	go video.loop(ctx)
	return s, nil
}

func (s *Synthetic) AudioTrack() webrtc.TrackLocal { return s.audio.track }
func (s *Synthetic) VideoTrack() webrtc.TrackLocal { return s.video.track }

func (s *Synthetic) SetAudioEnabled(on bool) { setEnabled(s.audio, on) }
func (s *Synthetic) SetVideoEnabled(on bool) { setEnabled(s.video, on) }

func (s *Synthetic) AudioEnabled() bool { return s.audio.state.Load() == trackLive }
func (s *Synthetic) VideoEnabled() bool { return s.video.state.Load() == trackLive }

func (s *Synthetic) Close() { s.cancel() }

func setEnabled(o *outTrack, on bool) {
	if o.state.Load() == trackStopped {
		return
	}
	if on {
		o.state.Store(trackLive)
	} else {
		o.state.Store(trackMuted)
	}
}

// NewScreenTrack builds a standalone video track standing in for a
// screen capture. The returned stop func ends its writer loop.
func NewScreenTrack(ctx context.Context, stream string) (webrtc.TrackLocal, func(), error) {
	screen, err := newOutTrack(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate,
	}, "screen", stream, videoClockRate/50, []byte{0x10, 0x00, 0x9d, 0x01, 0x2a})
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	go screen.loop(ctx)
	return screen.track, cancel, nil
}
