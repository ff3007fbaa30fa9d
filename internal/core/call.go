package core

import (
	"github.com/google/uuid"
)

// UserID identifies a client of the calling layer. The relay routes
// signaling messages by this identifier only; clients never learn each
// other's network location.
type UserID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

// CallID identifies one call attempt. The caller generates it when the
// call is placed; the callee adopts it from the received offer.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id CallID) String() string {
	return string(id)
}

// MediaKind is fixed for the lifetime of a call once negotiation starts.
type MediaKind string

const (
	AudioCall MediaKind = "audio"
	VideoCall MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == AudioCall || k == VideoCall
}

// CallState is the client-side lifecycle of a call session.
// Rejected, Ended and Failed are transient: cleanup runs immediately and
// the session resets to Idle.
type CallState string

const (
	CallIdle     CallState = "idle"
	CallCalling  CallState = "calling"
	CallRinging  CallState = "ringing"
	CallActive   CallState = "active"
	CallRejected CallState = "rejected"
	CallEnded    CallState = "ended"
	CallFailed   CallState = "failed"
)

// Terminal reports whether the state ends the session.
func (s CallState) Terminal() bool {
	return s == CallRejected || s == CallEnded || s == CallFailed
}

type CallDirection string

const (
	Outgoing CallDirection = "outgoing"
	Incoming CallDirection = "incoming"
)

// TerminationReason is passed to the UI callback when a session returns
// to idle.
type TerminationReason string

const (
	ReasonRejected TerminationReason = "rejected"
	ReasonEnded    TerminationReason = "ended"
	ReasonFailed   TerminationReason = "failed"
	ReasonTimeout  TerminationReason = "timeout"
)

// CallInfo is the read-only session summary the UI surface binds to.
type CallInfo struct {
	CallID     CallID        `json:"call_id"`
	RemoteUser UserID        `json:"remote_user"`
	Direction  CallDirection `json:"direction"`
	MediaKind  MediaKind     `json:"media_kind"`
}
