package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// AMQPQueue consumes a durable queue with manual acknowledgements. A
// retryable failure is requeued once; a second failure is rejected so the
// broker can dead-letter it.
type AMQPQueue struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	deliveries  <-chan amqp.Delivery
	pollTimeout time.Duration
}

// DialAMQPQueue declares queueName and starts consuming it with the given
// prefetch window.
func DialAMQPQueue(url, queueName string, prefetch int, pollTimeout time.Duration) (*AMQPQueue, error) {
	conn, ch, err := dialChannel(url, queueName)
	if err != nil {
		return nil, err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.qos", "cannot set prefetch")
		}
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.consume", "cannot consume queue").
			WithField("queue", queueName)
	}
	return &AMQPQueue{conn: conn, ch: ch, deliveries: deliveries, pollTimeout: pollTimeout}, nil
}

func (q *AMQPQueue) Receive(ctx context.Context) (*ports.Delivery, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, errors.New(errors.CodeUnavailable, "amqp delivery channel closed")
		}
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		return &ports.Delivery{ID: id, Body: d.Body, Redelivered: d.Redelivered, Token: d}, nil
	}
}

func (q *AMQPQueue) Ack(_ context.Context, d *ports.Delivery) error {
	ad, ok := d.Token.(amqp.Delivery)
	if !ok {
		return errors.Internal("delivery was not produced by this queue")
	}
	if err := ad.Ack(false); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.ack", "amqp ack failed")
	}
	return nil
}

func (q *AMQPQueue) Nack(_ context.Context, d *ports.Delivery, requeue bool) error {
	ad, ok := d.Token.(amqp.Delivery)
	if !ok {
		return errors.Internal("delivery was not produced by this queue")
	}
	if err := ad.Nack(false, requeue && !ad.Redelivered); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.nack", "amqp nack failed")
	}
	return nil
}

func (q *AMQPQueue) Ping(context.Context) error {
	if q.conn == nil || q.conn.IsClosed() {
		return errors.Unavailable("amqp")
	}
	return nil
}

// Recover is a no-op: the broker requeues unacknowledged deliveries itself.
func (q *AMQPQueue) Recover(context.Context) (int, error) { return 0, nil }

func (q *AMQPQueue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// AMQPPublisher publishes persistent JSON messages to one queue through the
// default exchange.
type AMQPPublisher struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
}

func DialAMQPPublisher(url, queueName string) (*AMQPPublisher, error) {
	conn, ch, err := dialChannel(url, queueName)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, queueName: queueName}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.publish", "amqp publish failed").
			WithField("queue", p.queueName)
	}
	return nil
}

func (p *AMQPPublisher) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.Unavailable("amqp")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

func dialChannel(url, queueName string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.dial", "cannot connect to broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.channel", "cannot open channel")
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.amqp.declare", "cannot declare queue").
			WithField("queue", queueName)
	}
	return conn, ch, nil
}
