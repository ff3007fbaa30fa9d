// Package signal defines the typed JSON messages exchanged between two
// calling clients via the relay. Clients emit sender forms (call-offer,
// call-answer, call-reject, call-end); the relay rewrites them into
// delivered forms (incoming-call, call-answered, call-rejected,
// call-ended) with the sender identity injected before forwarding.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/worthym330/innovate-calls/internal/core"
)

type Kind string

const (
	KindCallOffer    Kind = "call-offer"
	KindIncomingCall Kind = "incoming-call"
	KindCallAnswer   Kind = "call-answer"
	KindCallAnswered Kind = "call-answered"
	KindICECandidate Kind = "ice-candidate"
	KindCallReject   Kind = "call-reject"
	KindCallRejected Kind = "call-rejected"
	KindCallEnd      Kind = "call-end"
	KindCallEnded    Kind = "call-ended"
	KindCallFailed   Kind = "call-failed"
)

var (
	ErrUnknownKind = errors.New("unknown signaling message kind")
	ErrNotRoutable = errors.New("message kind is not a routable sender form")
	ErrMalformed   = errors.New("malformed signaling message")
	ErrNoRecipient = errors.New("signaling message has no recipient")
)

// Message is one signaling message. Recipient addresses routing on the
// relay; Sender is empty on sender forms and filled in by Deliver.
type Message interface {
	GetKind() Kind
	Recipient() core.UserID
	Sender() core.UserID
	ToJSON() ([]byte, error)
}

// head is embedded in every concrete message.
type head struct {
	Kind Kind        `json:"type"`
	To   core.UserID `json:"to,omitempty"`
	From core.UserID `json:"from,omitempty"`
}

func (h head) GetKind() Kind          { return h.Kind }
func (h head) Recipient() core.UserID { return h.To }
func (h head) Sender() core.UserID    { return h.From }

// FromReader decodes one signaling message. The kind discriminator
// selects the concrete type; unknown kinds are rejected.
func FromReader(reader io.Reader) (Message, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	return FromJSON(raw)
}

func FromJSON(raw []byte) (Message, error) {
	h := &head{}
	if err := json.Unmarshal(raw, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch h.Kind {
	case KindCallOffer:
		msg = &CallOffer{}
	case KindIncomingCall:
		msg = &IncomingCall{}
	case KindCallAnswer:
		msg = &CallAnswer{}
	case KindCallAnswered:
		msg = &CallAnswered{}
	case KindICECandidate:
		msg = &ICECandidate{}
	case KindCallReject:
		msg = &CallReject{}
	case KindCallRejected:
		msg = &CallRejected{}
	case KindCallEnd:
		msg = &CallEnd{}
	case KindCallEnded:
		msg = &CallEnded{}
	case KindCallFailed:
		msg = &CallFailed{}
	default:
		return nil, ErrUnknownKind
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return msg, nil
}
