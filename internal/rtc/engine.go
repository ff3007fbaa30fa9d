// Package rtc owns the peer connection for one call attempt: local
// capture, offer/answer negotiation and candidate exchange. The caller
// layer decides when each step runs; the engine only performs them.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/config"
	"github.com/worthym330/innovate-calls/internal/core"
)

const rtcpPLIInterval = 3 * time.Second

var (
	ErrClosed = errors.New("rtc: engine closed")

	// ErrCapture marks device acquisition failures (permission denied,
	// missing device or file) so callers can tell them apart from
	// negotiation errors.
	ErrCapture = errors.New("rtc: capture failed")
)

// CandidateHandler receives each locally discovered network candidate
// for forwarding to the remote peer.
type CandidateHandler func(candidate webrtc.ICECandidateInit)

// Engine negotiates one peer connection. Create one per call attempt
// and discard it after Close.
type Engine struct {
	cfg    config.RTCConfig
	source MediaSource
	kind   core.MediaKind

	onCandidate CandidateHandler

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	local             *LocalStream
	remote            *RemoteStream
	pendingCandidates []webrtc.ICECandidateInit
	closed            bool
}

func NewEngine(cfg config.RTCConfig, source MediaSource, kind core.MediaKind) *Engine {
	return &Engine{
		cfg:    cfg,
		source: source,
		kind:   kind,
		remote: NewRemoteStream(),
	}
}

// OnICECandidate registers the candidate forwarder. Must be set before
// negotiation starts.
func (e *Engine) OnICECandidate(handler CandidateHandler) {
	e.onCandidate = handler
}

// StartOutbound acquires capture, attaches it to a fresh connection and
// produces the offer to send to the callee.
func (e *Engine) StartOutbound(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := e.setup(ctx); err != nil {
		return webrtc.SessionDescription{}, err
	}

	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrClosed
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return offer, nil
}

// CompleteOutbound applies the callee's answer. Buffered candidates are
// replayed once the remote description is in place.
func (e *Engine) CompleteOutbound(answer webrtc.SessionDescription) error {
	return e.setRemoteDescription(answer)
}

// StartInbound acquires capture, applies the stored offer and produces
// the answer to send back to the caller.
func (e *Engine) StartInbound(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := e.setup(ctx); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := e.setRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrClosed
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return answer, nil
}

func (e *Engine) setup(ctx context.Context) error {
	local, err := e.source.Capture(ConstraintsFor(e.kind))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}

	// Capture can block on a permission prompt; the session may have
	// been torn down meanwhile.
	if err := ctx.Err(); err != nil {
		local.Stop()
		return err
	}

	pc, err := newPeerConnection(e.cfg, e.kind)
	if err != nil {
		local.Stop()
		return err
	}

	for _, track := range local.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			local.Stop()
			pc.Close()
			return err
		}
		go readRTCP(sender)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if e.onCandidate != nil {
			e.onCandidate(candidate.ToJSON())
		}
	})
	pc.OnTrack(e.onRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("service", "rtc").Str("state", state.String()).Msg("connection state changed")

		if state == webrtc.PeerConnectionStateConnected {
			local.play()
		}
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		local.Stop()
		pc.Close()
		return ErrClosed
	}
	e.pc = pc
	e.local = local
	e.mu.Unlock()

	return nil
}

func (e *Engine) setRemoteDescription(sdp webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return ErrClosed
	}

	if err := e.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for _, candidate := range e.pendingCandidates {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "rtc").Msg("replay buffered candidate")
		}
	}
	e.pendingCandidates = nil

	return nil
}

// AddRemoteCandidate applies an inbound candidate, or buffers it until
// the remote description exists. Candidates for a torn-down session are
// dropped.
func (e *Engine) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	if e.pc == nil || e.pc.RemoteDescription() == nil {
		e.pendingCandidates = append(e.pendingCandidates, candidate)
		return nil
	}

	return e.pc.AddICECandidate(candidate)
}

func (e *Engine) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Debug().Str("service", "rtc").Str("track", track.ID()).Str("kind", track.Kind().String()).Msg("remote track added")

	e.remote.addTrack(track)

	done := make(chan struct{})
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go e.sendPLI(track, done)
	}

	go func() {
		defer close(done)
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			e.remote.record(pkt)
		}
	}()
}

// sendPLI asks the peer for a keyframe on an interval so the video
// stays decodable after loss.
func (e *Engine) sendPLI(track *webrtc.TrackRemote, done <-chan struct{}) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		pc := e.pc
		e.mu.Unlock()
		if pc == nil {
			return
		}

		if err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			log.Error().Err(err).Str("service", "rtc").Msg("send PLI")
			return
		}
	}
}

// readRTCP drains sender reports so interceptors see them.
func readRTCP(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

func (e *Engine) LocalStream() *LocalStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.local
}

func (e *Engine) RemoteStream() *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.remote
}

// Close stops capture and closes the connection. Safe to call multiple
// times.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pc := e.pc
	local := e.local
	e.pc = nil
	e.pendingCandidates = nil
	e.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if pc != nil {
		return pc.Close()
	}

	return nil
}
