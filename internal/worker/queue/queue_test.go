package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/config"
	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisReceiveAck(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	q := NewRedisQueue(rdb, "refinery", 100*time.Millisecond, 3)

	require.NoError(t, NewRedisPublisher(rdb, "refinery").Publish(ctx, []byte(`{"Records":[]}`)))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, `{"Records":[]}`, string(d.Body))
	assert.False(t, d.Redelivered)
	assert.NotEmpty(t, d.ID)

	processing := "refinery:processing:" + q.ConsumerID()
	inflight, err := mr.List(processing)
	require.NoError(t, err)
	assert.Len(t, inflight, 1)
	assert.True(t, mr.Exists("refinery:heartbeat:"+q.ConsumerID()))

	require.NoError(t, q.Ack(ctx, d))
	assert.False(t, mr.Exists(processing))
	assert.False(t, mr.Exists("refinery"))
}

func TestRedisReceiveTimeout(t *testing.T) {
	_, rdb := newRedis(t)
	q := NewRedisQueue(rdb, "refinery", 50*time.Millisecond, 3)

	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedisNackRequeueThenPark(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	q := NewRedisQueue(rdb, "refinery", 100*time.Millisecond, 2)
	require.NoError(t, NewRedisPublisher(rdb, "refinery").Publish(ctx, []byte("job")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d, true))

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Redelivered)

	require.NoError(t, q.Nack(ctx, d, true))
	failed, err := mr.List("refinery:failed")
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, failed)
	assert.False(t, mr.Exists("refinery"))
	assert.False(t, mr.Exists("refinery:processing:"+q.ConsumerID()))
}

func TestRedisNackWithoutRequeue(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	q := NewRedisQueue(rdb, "refinery", 100*time.Millisecond, 5)
	require.NoError(t, NewRedisPublisher(rdb, "refinery").Publish(ctx, []byte("bad")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d, false))

	failed, err := mr.List("refinery:failed")
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, failed)
}

func TestRedisRecoverExpiredConsumer(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	mr.SetAdd("refinery:consumers", "crashed")
	mr.Lpush("refinery:processing:crashed", "a")
	mr.Lpush("refinery:processing:crashed", "b")

	n, err := NewRedisQueue(rdb, "refinery", time.Second, 3).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := mr.List("refinery")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, pending)
	assert.False(t, mr.Exists("refinery:processing:crashed"))
	members, _ := mr.Members("refinery:consumers")
	assert.NotContains(t, members, "crashed")
}

func TestRedisRecoverLeavesLivePeer(t *testing.T) {
	ctx := context.Background()
	mr, rdbA := newRedis(t)
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdbB.Close() })

	a := NewRedisQueue(rdbA, "refinery", 100*time.Millisecond, 3)
	b := NewRedisQueue(rdbB, "refinery", 50*time.Millisecond, 3)
	require.NoError(t, NewRedisPublisher(rdbA, "refinery").Publish(ctx, []byte("job")))

	held, err := a.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, held)

	n, err := b.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a live consumer's in-flight message must stay put")

	d, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	// Once A's heartbeat lapses its message becomes recoverable.
	mr.FastForward(heartbeatTTL + time.Second)
	n, err = b.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err = b.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, held.ID, d.ID)
}

func TestRedisCloseDeregisters(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "refinery", 50*time.Millisecond, 3)

	_, err := q.Receive(ctx)
	require.NoError(t, err)
	members, _ := mr.Members("refinery:consumers")
	assert.Contains(t, members, q.ConsumerID())

	require.NoError(t, q.Close())
	assert.False(t, mr.Exists("refinery:heartbeat:"+q.ConsumerID()))
	members, _ = mr.Members("refinery:consumers")
	assert.NotContains(t, members, q.ConsumerID())
}

func TestRedisUnavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	q := NewRedisQueue(rdb, "refinery", 50*time.Millisecond, 3)
	mr.Close()

	assert.True(t, errors.IsCode(q.Ping(context.Background()), errors.CodeUnavailable))
	_, err := q.Receive(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

type fakeAck struct {
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestAMQPReceive(t *testing.T) {
	ack := &fakeAck{}
	ch := make(chan amqp.Delivery, 3)
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("one")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("two")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("three"), Redelivered: true, MessageId: "m-3"}

	q := &AMQPQueue{deliveries: ch, pollTimeout: 50 * time.Millisecond}
	ctx := context.Background()

	d1, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", d1.ID)
	require.NoError(t, q.Ack(ctx, d1))

	d2, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d2, true))

	d3, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m-3", d3.ID)
	assert.True(t, d3.Redelivered)
	require.NoError(t, q.Nack(ctx, d3, true))

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
	assert.Equal(t, []bool{true, false}, ack.requeue, "a redelivered message is not requeued again")

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "poll timeout yields no delivery")

	close(ch)
	_, err = q.Receive(ctx)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestAMQPReceiveCanceled(t *testing.T) {
	q := &AMQPQueue{deliveries: make(chan amqp.Delivery), pollTimeout: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAMQPForeignDelivery(t *testing.T) {
	q := &AMQPQueue{}
	err := q.Ack(context.Background(), &ports.Delivery{Token: "redis-body"})
	assert.Error(t, err)
	assert.Error(t, q.Ping(context.Background()))
}

func TestFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default().Queue
	cfg.RedisAddr = mr.Addr()

	c, err := NewConsumer(cfg, 1)
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))

	p, err := NewPublisher(cfg, cfg.NotifyQueue)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Publish(context.Background(), []byte("hello")))
	got, err := mr.List(cfg.NotifyQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, got)

	cfg.Driver = "sqs"
	_, err = NewConsumer(cfg, 1)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
	_, err = NewPublisher(cfg, "x")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}
