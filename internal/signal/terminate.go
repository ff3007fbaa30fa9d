package signal

import (
	"encoding/json"

	"github.com/worthym330/innovate-calls/internal/core"
)

// CallReject declines a ringing call: callee → relay.
type CallReject struct {
	head
	CallID core.CallID `json:"call_id"`
}

func NewCallReject(to core.UserID, callID core.CallID) *CallReject {
	return &CallReject{
		head:   head{Kind: KindCallReject, To: to},
		CallID: callID,
	}
}

func (m CallReject) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CallRejected is the relay-delivered form of CallReject.
type CallRejected struct {
	head
	CallID core.CallID `json:"call_id"`
}

func NewCallRejected(from, to core.UserID, callID core.CallID) *CallRejected {
	return &CallRejected{
		head:   head{Kind: KindCallRejected, To: to, From: from},
		CallID: callID,
	}
}

func (m CallRejected) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CallEnd hangs up: either side → relay, at any stage of the call.
type CallEnd struct {
	head
	CallID core.CallID `json:"call_id"`
}

func NewCallEnd(to core.UserID, callID core.CallID) *CallEnd {
	return &CallEnd{
		head:   head{Kind: KindCallEnd, To: to},
		CallID: callID,
	}
}

func (m CallEnd) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CallEnded is the relay-delivered form of CallEnd.
type CallEnded struct {
	head
	CallID core.CallID `json:"call_id"`
}

func NewCallEnded(from, to core.UserID, callID core.CallID) *CallEnded {
	return &CallEnded{
		head:   head{Kind: KindCallEnded, To: to, From: from},
		CallID: callID,
	}
}

func (m CallEnded) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CallFailed aborts a call attempt with a reason; sent by either side
// and delivered as-is.
type CallFailed struct {
	head
	CallID core.CallID `json:"call_id"`
	Reason string      `json:"reason"`
}

func NewCallFailed(to core.UserID, callID core.CallID, reason string) *CallFailed {
	return &CallFailed{
		head:   head{Kind: KindCallFailed, To: to},
		CallID: callID,
		Reason: reason,
	}
}

func (m CallFailed) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
