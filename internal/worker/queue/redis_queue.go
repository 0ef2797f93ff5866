package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// heartbeatTTL is how long a consumer stays alive in redis without
// refreshing its heartbeat. Recover only touches lists of consumers whose
// heartbeat has expired.
const heartbeatTTL = 30 * time.Second

// RedisQueue is a reliable list queue. Each consumer instance owns the
// list "<queue>:processing:<consumer>"; Receive moves a message there
// atomically, Ack removes it and Nack either pushes it back or parks it on
// "<queue>:failed". Attempt counts live in the "<queue>:attempts" hash keyed
// by the body hash. Consumers register in "<queue>:consumers" and keep
// "<queue>:heartbeat:<consumer>" alive while they run.
type RedisQueue struct {
	rdb         *redis.Client
	queueName   string
	consumerID  string
	pollTimeout time.Duration
	maxAttempts int

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
}

func NewRedisQueue(rdb *redis.Client, queueName string, pollTimeout time.Duration, maxAttempts int) *RedisQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisQueue{
		rdb:         rdb,
		queueName:   queueName,
		consumerID:  uuid.NewString(),
		pollTimeout: pollTimeout,
		maxAttempts: maxAttempts,
		stop:        make(chan struct{}),
	}
}

// ConsumerID identifies this instance's processing list and heartbeat.
func (q *RedisQueue) ConsumerID() string { return q.consumerID }

func (q *RedisQueue) processingKey() string { return q.processingKeyOf(q.consumerID) }
func (q *RedisQueue) failedKey() string     { return q.queueName + ":failed" }
func (q *RedisQueue) attemptsKey() string   { return q.queueName + ":attempts" }
func (q *RedisQueue) consumersKey() string  { return q.queueName + ":consumers" }

func (q *RedisQueue) processingKeyOf(id string) string {
	return q.queueName + ":processing:" + id
}

func (q *RedisQueue) heartbeatKeyOf(id string) string {
	return q.queueName + ":heartbeat:" + id
}

func (q *RedisQueue) beat(ctx context.Context) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, q.consumersKey(), q.consumerID)
		p.Set(ctx, q.heartbeatKeyOf(q.consumerID), time.Now().UTC().Format(time.RFC3339), heartbeatTTL)
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.heartbeat", "redis heartbeat failed")
	}
	return nil
}

// register beats once and starts the heartbeat loop on first use.
func (q *RedisQueue) register(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	if err := q.beat(ctx); err != nil {
		return err
	}
	q.started = true
	go q.heartbeat()
	return nil
}

func (q *RedisQueue) heartbeat() {
	t := time.NewTicker(heartbeatTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), heartbeatTTL/3)
			_ = q.beat(ctx)
			cancel()
		}
	}
}

func (q *RedisQueue) Receive(ctx context.Context) (*ports.Delivery, error) {
	if err := q.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	body, err := q.rdb.BRPopLPush(ctx, q.queueName, q.processingKey(), q.pollTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.receive", "redis receive failed")
	}

	id := bodyID(body)
	attempts, err := q.rdb.HGet(ctx, q.attemptsKey(), id).Int()
	if err != nil && err != redis.Nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.receive", "redis attempts lookup failed")
	}
	return &ports.Delivery{ID: id, Body: []byte(body), Redelivered: attempts > 0, Token: body}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *ports.Delivery) error {
	body, _ := d.Token.(string)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, body)
		p.HDel(ctx, q.attemptsKey(), d.ID)
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.ack", "redis ack failed")
	}
	return nil
}

// Nack requeues until maxAttempts deliveries have failed, then parks the
// message on the failed list.
func (q *RedisQueue) Nack(ctx context.Context, d *ports.Delivery, requeue bool) error {
	body, _ := d.Token.(string)
	attempts, err := q.rdb.HIncrBy(ctx, q.attemptsKey(), d.ID, 1).Result()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.nack", "redis nack failed")
	}

	retry := requeue && attempts < int64(q.maxAttempts)
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, body)
		if retry {
			p.LPush(ctx, q.queueName, body)
		} else {
			p.LPush(ctx, q.failedKey(), body)
			p.HDel(ctx, q.attemptsKey(), d.ID)
		}
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.nack", "redis nack failed")
	}
	return nil
}

// Recover moves messages stranded by consumers whose heartbeat has expired
// back onto the queue. Lists owned by live consumers are left alone, so it
// is safe to call while other instances are processing.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	ids, err := q.rdb.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.recover", "redis consumer lookup failed")
	}
	n := 0
	for _, id := range ids {
		if id == q.consumerID {
			continue
		}
		alive, err := q.rdb.Exists(ctx, q.heartbeatKeyOf(id)).Result()
		if err != nil {
			return n, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.recover", "redis heartbeat lookup failed")
		}
		if alive > 0 {
			continue
		}
		for {
			_, err := q.rdb.RPopLPush(ctx, q.processingKeyOf(id), q.queueName).Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return n, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.recover", "redis recover failed")
			}
			n++
		}
		if err := q.rdb.SRem(ctx, q.consumersKey(), id).Err(); err != nil {
			return n, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.recover", "redis consumer cleanup failed")
		}
	}
	return n, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.ping", "redis unreachable")
	}
	return nil
}

// Close stops the heartbeat and deregisters the consumer. Messages still
// on its processing list stay there for another instance to recover.
func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.rdb.Del(ctx, q.heartbeatKeyOf(q.consumerID)).Err()
	if n, err := q.rdb.LLen(ctx, q.processingKey()).Result(); err == nil && n == 0 {
		_ = q.rdb.SRem(ctx, q.consumersKey(), q.consumerID).Err()
	}
	return q.rdb.Close()
}

// RedisPublisher pushes messages onto a list consumed by RedisQueue.
type RedisPublisher struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisPublisher(rdb *redis.Client, queueName string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, queueName: queueName}
}

func (p *RedisPublisher) Publish(ctx context.Context, body []byte) error {
	if err := p.rdb.LPush(ctx, p.queueName, body).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.publish", "redis publish failed").
			WithField("queue", p.queueName)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.redis.ping", "redis unreachable")
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

func bodyID(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}
