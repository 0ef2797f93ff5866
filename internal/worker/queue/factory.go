// Package queue holds the trigger consumers and notification publishers
// for the redis and amqp drivers.
package queue

import (
	"context"

	"github.com/redis/go-redis/v9"

	"refinery/internal/config"
	"refinery/internal/pkg/errors"
	"refinery/internal/ports"
)

// Consumer is a trigger consumer that can also move stranded in-flight
// messages back to the queue. Only the redis driver has any to move.
type Consumer interface {
	ports.QueueConsumer
	Recover(ctx context.Context) (int, error)
}

func NewConsumer(cfg config.QueueConfig, prefetch int) (Consumer, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisQueue(newRedisClient(cfg), cfg.TriggerQueue, cfg.PollTimeout, cfg.MaxAttempts), nil
	case "amqp":
		q, err := DialAMQPQueue(cfg.AMQPURL, cfg.TriggerQueue, prefetch, cfg.PollTimeout)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, errors.InvalidConfig("queue.driver", "unknown queue driver: "+cfg.Driver)
	}
}

// NewPublisher returns a publisher for queueName on the configured driver.
func NewPublisher(cfg config.QueueConfig, queueName string) (ports.QueuePublisher, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisPublisher(newRedisClient(cfg), queueName), nil
	case "amqp":
		p, err := DialAMQPPublisher(cfg.AMQPURL, queueName)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.InvalidConfig("queue.driver", "unknown queue driver: "+cfg.Driver)
	}
}

func newRedisClient(cfg config.QueueConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
