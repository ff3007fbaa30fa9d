package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/worthym330/innovate-calls/internal/core"
)

// CallOffer opens a call attempt: caller → relay.
type CallOffer struct {
	head
	CallID    core.CallID               `json:"call_id"`
	MediaKind core.MediaKind            `json:"media_kind"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

func NewCallOffer(to core.UserID, callID core.CallID, kind core.MediaKind, offer webrtc.SessionDescription) *CallOffer {
	return &CallOffer{
		head:      head{Kind: KindCallOffer, To: to},
		CallID:    callID,
		MediaKind: kind,
		Offer:     offer,
	}
}

func (m CallOffer) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// IncomingCall is the relay-delivered form of CallOffer: the callee
// learns the caller identity from the From field.
type IncomingCall struct {
	head
	CallID    core.CallID               `json:"call_id"`
	MediaKind core.MediaKind            `json:"media_kind"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

func NewIncomingCall(from, to core.UserID, callID core.CallID, kind core.MediaKind, offer webrtc.SessionDescription) *IncomingCall {
	return &IncomingCall{
		head:      head{Kind: KindIncomingCall, To: to, From: from},
		CallID:    callID,
		MediaKind: kind,
		Offer:     offer,
	}
}

func (m IncomingCall) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
