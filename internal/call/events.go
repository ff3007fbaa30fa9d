package call

import (
	"github.com/pion/webrtc/v3"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/signal"
)

// Every transition input is a typed event consumed by the coordinator
// loop. Commands carry a reply channel; async completions carry the
// epoch of the session they belong to so stale results are discarded.
type event interface {
	eventName() string
}

type cmdStart struct {
	target core.UserID
	kind   core.MediaKind
	reply  chan error
}

type cmdAccept struct {
	reply chan error
}

type cmdReject struct {
	reply chan error
}

type cmdEnd struct {
	reply chan error
}

type inboundMessage struct {
	msg signal.Message
}

type offerReady struct {
	epoch uint64
	offer webrtc.SessionDescription
	err   error
}

type answerReady struct {
	epoch  uint64
	answer webrtc.SessionDescription
	err    error
}

type localCandidate struct {
	epoch     uint64
	candidate webrtc.ICECandidateInit
}

type ringExpired struct {
	epoch uint64
}

func (cmdStart) eventName() string       { return "cmd_start" }
func (cmdAccept) eventName() string      { return "cmd_accept" }
func (cmdReject) eventName() string      { return "cmd_reject" }
func (cmdEnd) eventName() string         { return "cmd_end" }
func (inboundMessage) eventName() string { return "inbound_message" }
func (offerReady) eventName() string     { return "offer_ready" }
func (answerReady) eventName() string    { return "answer_ready" }
func (localCandidate) eventName() string { return "local_candidate" }
func (ringExpired) eventName() string    { return "ring_expired" }
