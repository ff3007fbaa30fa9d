package signal

import "github.com/worthym330/innovate-calls/internal/core"

// Deliver rewrites a sender-form message into the form the recipient
// receives, stamping the sender identity. The relay and the loopback
// test harness share this transform so routed traffic is identical in
// both.
func Deliver(from core.UserID, msg Message) (Message, error) {
	if msg.Recipient() == "" {
		return nil, ErrNoRecipient
	}

	switch m := msg.(type) {
	case *CallOffer:
		return NewIncomingCall(from, m.To, m.CallID, m.MediaKind, m.Offer), nil
	case *CallAnswer:
		return NewCallAnswered(from, m.To, m.CallID, m.Answer), nil
	case *CallReject:
		return NewCallRejected(from, m.To, m.CallID), nil
	case *CallEnd:
		return NewCallEnded(from, m.To, m.CallID), nil
	case *ICECandidate:
		forwarded := *m
		forwarded.From = from
		return &forwarded, nil
	case *CallFailed:
		forwarded := *m
		forwarded.From = from
		return &forwarded, nil
	default:
		return nil, ErrNotRoutable
	}
}
