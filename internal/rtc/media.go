package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/worthym330/innovate-calls/internal/core"
)

// AudioConstraints are always requested with all three processing flags
// enabled regardless of media kind.
type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

type VideoConstraints struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FacingMode string `json:"facingMode"`
}

// CaptureConstraints describe what a media source must acquire for one
// call. Video is nil for audio-only calls.
type CaptureConstraints struct {
	Audio AudioConstraints  `json:"audio"`
	Video *VideoConstraints `json:"video,omitempty"`
}

// ConstraintsFor maps a call's media kind to capture constraints. Video
// calls request an ideal 1280x720 front-facing camera on top of the
// audio capture.
func ConstraintsFor(kind core.MediaKind) CaptureConstraints {
	constraints := CaptureConstraints{
		Audio: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}

	if kind == core.VideoCall {
		constraints.Video = &VideoConstraints{
			Width:      1280,
			Height:     720,
			FacingMode: "user",
		}
	}

	return constraints
}

// MediaSource acquires local capture for a call attempt. Acquisition
// failure (permission denied, missing device or file) aborts the
// attempt.
type MediaSource interface {
	Capture(constraints CaptureConstraints) (*LocalStream, error)
}

// LocalStream holds the captured local tracks for one call. Pumps that
// feed the tracks start once the connection is up and stop on Stop.
type LocalStream struct {
	constraints CaptureConstraints
	tracks      []webrtc.TrackLocal

	pumps []func(ctx context.Context)

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewLocalStream(constraints CaptureConstraints, tracks []webrtc.TrackLocal) *LocalStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalStream{
		constraints: constraints,
		tracks:      tracks,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *LocalStream) Constraints() CaptureConstraints {
	return s.constraints
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *LocalStream) addPump(pump func(ctx context.Context)) {
	s.pumps = append(s.pumps, pump)
}

// play starts the track pumps. Called by the engine once the peer
// connection is connected.
func (s *LocalStream) play() {
	s.startOnce.Do(func() {
		for _, pump := range s.pumps {
			go pump(s.ctx)
		}
	})
}

// Stop halts the pumps and releases the capture. Safe to call multiple
// times.
func (s *LocalStream) Stop() {
	s.stopOnce.Do(s.cancel)
}

// StreamStats is a running total of media received from the peer.
type StreamStats struct {
	Packets uint64
	Bytes   uint64
}

// RemoteStream collects the tracks received from the peer. Not owned:
// tracks die with the peer connection, the stream only references them
// for rendering and stats.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote

	packets uint64
	bytes   uint64
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{}
}

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

func (s *RemoteStream) record(pkt *rtp.Packet) {
	atomic.AddUint64(&s.packets, 1)
	atomic.AddUint64(&s.bytes, uint64(pkt.MarshalSize()))
}

func (s *RemoteStream) Stats() StreamStats {
	return StreamStats{
		Packets: atomic.LoadUint64(&s.packets),
		Bytes:   atomic.LoadUint64(&s.bytes),
	}
}
