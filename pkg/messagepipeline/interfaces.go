package messagepipeline

import (
	"context"
)

// MessageConsumer is an upstream source of messages, such as a Pub/Sub subscription.
type MessageConsumer interface {
	// Messages is closed once the consumer has stopped delivering.
	Messages() <-chan Message
	Start(ctx context.Context) error
	// Stop ends consumption and waits for the receive loop to exit.
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

// MessageTransformer decodes a message into a payload. A true skip acknowledges the message
// without handing it to the processor.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// ProcessableItem pairs a decoded payload with the message it came from, so whoever stores the
// payload can settle the message.
type ProcessableItem[T any] struct {
	Original Message
	Payload  *T
}

// MessageProcessor takes ownership of the items sent to its input, including settling them.
type MessageProcessor[T any] interface {
	Input() chan<- *ProcessableItem[T]
	Start(ctx context.Context)
	// Stop closes the input and flushes whatever the processor still holds.
	Stop(ctx context.Context) error
}
