package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const messageBuffer = 256

// RedisSubscriber consumes one Redis pub/sub channel and adapts it to the
// Subscriber interface.
type RedisSubscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	ch     chan Message
	done   chan struct{}
}

// NewRedisSubscriber connects to Redis, subscribes to topic and starts
// pumping messages. Connection failure is returned immediately so the
// caller can fail fast at startup.
func NewRedisSubscriber(ctx context.Context, addr, password string, db int, topic string) (*RedisSubscriber, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  0, // blocking subscribe reads
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, topic)

	// Force the subscription to be established before we report success.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()

		return nil, fmt.Errorf("failed to subscribe to %q: %w", topic, err)
	}

	s := &RedisSubscriber{
		client: client,
		pubsub: pubsub,
		ch:     make(chan Message, messageBuffer),
		done:   make(chan struct{}),
	}

	go s.pump()

	return s, nil
}

func (s *RedisSubscriber) pump() {
	defer close(s.ch)

	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

// Messages returns the inbound message channel.
func (s *RedisSubscriber) Messages() <-chan Message {
	return s.ch
}

// Close tears down the subscription and the client connection.
func (s *RedisSubscriber) Close() error {
	close(s.done)

	if err := s.pubsub.Close(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return s.client.Close()
}
