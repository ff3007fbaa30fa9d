package eventbus

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/worthym330/innovate-calls/internal/core"
)

// RedisBus is the production bus, one pub/sub channel per user.
type RedisBus struct {
	rdb *redis.Client
}

// RedisPubSub is factory for building a Bus based on redis pub/sub.
func RedisPubSub(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(userID core.UserID, payload []byte) error {
	return b.rdb.Publish(context.Background(), buildChannel(userID), payload).Err()
}

func (b *RedisBus) Subscribe(userID core.UserID) (Subscription, error) {
	ctx := context.Background()

	pubsub := b.rdb.Subscribe(ctx, buildChannel(userID))
	// Wait until the subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sub.pump()

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// pump forwards redis messages until the pubsub or the subscription is
// closed. The done case unblocks an in-flight send when the consumer is
// gone, so a dead websocket does not leak this goroutine.
func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}
