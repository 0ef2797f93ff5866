package ports

import "context"

// Delivery is one message taken from a trigger queue. It must be settled
// with Ack or Nack on the consumer that produced it.
type Delivery struct {
	ID          string
	Body        []byte
	Redelivered bool

	// Token is driver-specific settlement state.
	Token any
}

// QueueConsumer receives trigger messages.
type QueueConsumer interface {
	// Receive waits for the next message. It returns (nil, nil) when no
	// message arrived before the driver's poll timeout.
	Receive(ctx context.Context) (*Delivery, error)
	// Ack removes a processed message.
	Ack(ctx context.Context, d *Delivery) error
	// Nack rejects a message; requeue asks for a later redelivery.
	Nack(ctx context.Context, d *Delivery, requeue bool) error
	Ping(ctx context.Context) error
	Close() error
}

// QueuePublisher sends messages to one named queue.
type QueuePublisher interface {
	Publish(ctx context.Context, body []byte) error
	Ping(ctx context.Context) error
	Close() error
}
