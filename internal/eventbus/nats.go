package eventbus

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/worthym330/innovate-calls/internal/core"
)

// NatsBus serves deployments that already run NATS instead of redis.
// Publish and Subscribe share one connection, so echo must stay enabled
// or a single relay node could never route between its own clients.
type NatsBus struct {
	nc *nats.Conn
}

func NatsPubSub(addr string) (*NatsBus, error) {
	nc, err := nats.Connect(addr)
	if err != nil {
		return nil, err
	}

	return &NatsBus{nc: nc}, nil
}

func (b *NatsBus) Publish(userID core.UserID, payload []byte) error {
	return b.nc.Publish(buildChannel(userID), payload)
}

func (b *NatsBus) Subscribe(userID core.UserID) (Subscription, error) {
	ns := &natsSubscription{out: make(chan []byte, 64)}

	sub, err := b.nc.Subscribe(buildChannel(userID), ns.deliver)
	if err != nil {
		return nil, err
	}
	ns.sub = sub

	return ns, nil
}

func (b *NatsBus) Close() error {
	return b.nc.Drain()
}

type natsSubscription struct {
	sub *nats.Subscription

	mu     sync.Mutex
	closed bool
	out    chan []byte
}

// deliver runs on the nats dispatch goroutine. The send never blocks:
// a stalled consumer drops messages, same as the memory bus, and the
// closed check under the lock keeps a late dispatch off a closed
// channel.
func (s *natsSubscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.out <- msg.Data:
	default:
	}
}

func (s *natsSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *natsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	return s.sub.Unsubscribe()
}
