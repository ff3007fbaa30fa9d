package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/worthym330/innovate-calls/internal/core"
)

// CallAnswer completes negotiation: callee → relay.
type CallAnswer struct {
	head
	CallID core.CallID               `json:"call_id"`
	Answer webrtc.SessionDescription `json:"answer"`
}

func NewCallAnswer(to core.UserID, callID core.CallID, answer webrtc.SessionDescription) *CallAnswer {
	return &CallAnswer{
		head:   head{Kind: KindCallAnswer, To: to},
		CallID: callID,
		Answer: answer,
	}
}

func (m CallAnswer) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CallAnswered is the relay-delivered form of CallAnswer.
type CallAnswered struct {
	head
	CallID core.CallID               `json:"call_id"`
	Answer webrtc.SessionDescription `json:"answer"`
}

func NewCallAnswered(from, to core.UserID, callID core.CallID, answer webrtc.SessionDescription) *CallAnswered {
	return &CallAnswered{
		head:   head{Kind: KindCallAnswered, To: to, From: from},
		CallID: callID,
		Answer: answer,
	}
}

func (m CallAnswered) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
