package eventbus

import (
	"sync"

	"github.com/worthym330/innovate-calls/internal/core"
)

// MemoryBus is the single-node bus: used by standalone relays without
// redis/NATS and by tests. Publish to a user with no subscribers is a
// silent drop, matching pub/sub semantics.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[core.UserID][]*memorySubscription
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[core.UserID][]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(userID core.UserID, payload []byte) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.subs[userID]))
	copy(subs, b.subs[userID])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

func (b *MemoryBus) Subscribe(userID core.UserID) (Subscription, error) {
	sub := &memorySubscription{
		bus:    b,
		userID: userID,
		out:    make(chan []byte, 64),
	}

	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], sub)
	b.mu.Unlock()

	return sub, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.userID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.userID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.userID]) == 0 {
		delete(b.subs, sub.userID)
	}
}

type memorySubscription struct {
	bus    *MemoryBus
	userID core.UserID
	out    chan []byte

	closeOnce sync.Once
}

func (s *memorySubscription) deliver(payload []byte) {
	// A deliver racing Close may hit a closed channel; drop the message.
	defer func() { _ = recover() }()

	select {
	case s.out <- payload:
	default:
	}
}

func (s *memorySubscription) Channel() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.out)
	})
	return nil
}
