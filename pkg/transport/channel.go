package transport

import "sync"

// ChannelSubscriber is an in-process Subscriber backed by a Go channel.
// Tests and the HTTP ingest path use it to feed the pipeline without a
// broker.
type ChannelSubscriber struct {
	ch     chan Message
	mu     sync.Mutex
	closed bool
}

// NewChannelSubscriber creates a ChannelSubscriber with the given buffer.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{ch: make(chan Message, buffer)}
}

// Publish delivers one payload to the subscriber. It reports false if the
// subscriber is closed or the buffer is full.
func (s *ChannelSubscriber) Publish(topic string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- Message{Topic: topic, Payload: payload}:
		return true
	default:
		return false
	}
}

// Messages returns the inbound message channel.
func (s *ChannelSubscriber) Messages() <-chan Message {
	return s.ch
}

// Close closes the message channel. Publish after Close is a no-op.
func (s *ChannelSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}

	return nil
}
