package worker

import (
	"context"
	"time"

	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
)

// Handler processes one trigger message body.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

type Deps struct {
	Queue   ports.QueueConsumer
	Handler Handler
	// Retryable decides whether a failed message is requeued.
	Retryable   func(error) bool
	Concurrency int
	JobTimeout  time.Duration
	Log         *logger.Logger
}
