// Package transport abstracts the publish/subscribe channel that delivers
// raw telemetry. The broker itself is an external collaborator; the
// pipeline only needs a stream of messages from one logical topic, with
// at-least-once delivery assumed.
package transport

// Message is one raw payload received from the telemetry topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber delivers inbound telemetry messages until closed.
type Subscriber interface {
	// Messages returns the channel of inbound messages. The channel is
	// closed when the subscription ends.
	Messages() <-chan Message

	// Close tears down the subscription and closes the message channel.
	Close() error
}
