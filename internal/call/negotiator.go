package call

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/rtc"
	"github.com/worthym330/innovate-calls/internal/signal"
)

// Negotiator is one call attempt's media negotiation. The rtc engine is
// the production implementation; tests substitute fakes.
type Negotiator interface {
	OnICECandidate(handler rtc.CandidateHandler)
	StartOutbound(ctx context.Context) (webrtc.SessionDescription, error)
	CompleteOutbound(answer webrtc.SessionDescription) error
	StartInbound(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error
	LocalStream() *rtc.LocalStream
	RemoteStream() *rtc.RemoteStream
	Close() error
}

// NegotiatorFactory builds a fresh Negotiator for each call attempt.
type NegotiatorFactory func(kind core.MediaKind) Negotiator

// Sender transmits one signaling message toward the relay. Delivery is
// best effort.
type Sender interface {
	Send(msg signal.Message) error
}
