// Package queue carries raw VINs from the upload stage to the decode stage with
// at-least-once delivery.
package queue

import (
	"context"
	"time"
)

// Message represents a consumed or published queue message.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes consumed messages.
type Handler interface {
	// Handle processes a message. A returned error leaves the message
	// uncommitted so it is delivered again.
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Publisher sends messages to a topic and returns once the broker has them.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Consumer runs a consume loop until ctx is cancelled.
type Consumer interface {
	Run(ctx context.Context) error
}
