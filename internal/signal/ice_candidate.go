package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/worthym330/innovate-calls/internal/core"
)

// ICECandidate trickles one network candidate in either direction. The
// relay passes it through unchanged apart from injecting the sender.
type ICECandidate struct {
	head
	CallID    core.CallID             `json:"call_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func NewICECandidate(to core.UserID, callID core.CallID, candidate webrtc.ICECandidateInit) *ICECandidate {
	return &ICECandidate{
		head:      head{Kind: KindICECandidate, To: to},
		CallID:    callID,
		Candidate: candidate,
	}
}

func (m ICECandidate) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
