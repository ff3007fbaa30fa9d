// Package eventbus fans signaling traffic out to connected clients.
// Each user has one channel; whatever relay node holds the user's
// websocket subscribes to it, so routing works across nodes as long as
// they share a bus.
package eventbus

import (
	"github.com/worthym330/innovate-calls/internal/core"
)

// Channel namespace for per-user signaling delivery.
const clientMessages = "call_signaling"

func buildChannel(userID core.UserID) string {
	return clientMessages + ":" + string(userID)
}

type Publisher interface {
	Publish(userID core.UserID, payload []byte) error
}

type Subscriber interface {
	Subscribe(userID core.UserID) (Subscription, error)
}

// Bus is what the relay app wires: publish on message receipt, subscribe
// on websocket connect.
type Bus interface {
	Publisher
	Subscriber
}

type Subscription interface {
	Channel() <-chan []byte
	Close() error
}
