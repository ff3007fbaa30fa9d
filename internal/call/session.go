package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/worthym330/innovate-calls/internal/core"
)

// session is the loop-owned state of one call attempt. At most one
// exists per coordinator; it dies whenever the state returns to idle.
type session struct {
	epoch      uint64
	info       core.CallInfo
	negotiator Negotiator

	// remoteOffer is held between the incoming offer and accept.
	remoteOffer *webrtc.SessionDescription
	// accepting is set once Accept launched negotiation, so a repeat
	// Accept does not start a second one.
	accepting bool

	ctx       context.Context
	cancel    context.CancelFunc
	ringTimer *time.Timer
}

func newSession(epoch uint64, info core.CallInfo, negotiator Negotiator) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		epoch:      epoch,
		info:       info,
		negotiator: negotiator,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
