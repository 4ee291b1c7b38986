package messagepipeline

import (
	"time"
)

// Message is one upstream record on its way to an egress chunk, together with the handles that
// settle it at the broker.
type Message struct {
	MessageData

	// Attributes are the broker attributes. PubsubSink writes TagAttribute and TimeAttribute.
	Attributes map[string]string

	// DeliveryAttempt counts deliveries when the subscription has a dead-letter policy, and is
	// zero otherwise.
	DeliveryAttempt int

	// Ack is called once the chunk holding the record is stored.
	Ack func()
	// Nack is called when the record could not be stored and must be redelivered.
	Nack func()
}

// MessageData is the broker-independent part of a Message.
type MessageData struct {
	ID          string    `json:"id"`
	Payload     []byte    `json:"payload"`
	PublishTime time.Time `json:"publishTime"`
}

// Settle acknowledges the message when ok and negatively acknowledges it otherwise.
// Messages without handles, such as those built in tests, are ignored.
func (m Message) Settle(ok bool) {
	switch {
	case ok && m.Ack != nil:
		m.Ack()
	case !ok && m.Nack != nil:
		m.Nack()
	}
}
