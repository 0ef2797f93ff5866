package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
)

// settleTimeout bounds an ack or nack issued after the job context ended.
const settleTimeout = 5 * time.Second

// Run starts d.Concurrency receive loops and blocks until ctx is canceled
// and in-flight messages are settled, or a loop fails. Each message is
// handled under its own JobTimeout.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	n := d.Concurrency
	if n < 1 {
		n = 1
	}
	retryable := d.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	log.Info("worker started", "concurrency", n, "job_timeout", d.JobTimeout.String())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		l := &loop{
			deps:      d,
			retryable: retryable,
			log:       log.WithFields(map[string]any{"loop": i}),
		}
		g.Go(func() error { return l.run(gctx) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		log.Info("worker stopped")
		return nil
	}
	return err
}

type loop struct {
	deps      Deps
	retryable func(error) bool
	log       *logger.Logger
}

func (l *loop) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		d, err := l.deps.Queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("queue receive error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		l.handle(ctx, d)
	}
}

// handle runs one message to completion. A message that was received
// finishes even when ctx is canceled; JobTimeout bounds it instead.
func (l *loop) handle(ctx context.Context, d *ports.Delivery) {
	msgCtx := logger.ContextWithRequestID(context.WithoutCancel(ctx), d.ID)
	if l.deps.JobTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(msgCtx, l.deps.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := l.deps.Handler.Handle(msgCtx, d.Body)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		if aerr := l.deps.Queue.Ack(settleCtx, d); aerr != nil {
			l.log.Error("ack failed", "message_id", d.ID, "error", aerr.Error())
		}
		l.log.Info("message processed",
			"message_id", d.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	requeue := l.retryable(err)
	if nerr := l.deps.Queue.Nack(settleCtx, d, requeue); nerr != nil {
		l.log.Error("nack failed", "message_id", d.ID, "error", nerr.Error())
	}
	l.log.Warn("message failed",
		"message_id", d.ID,
		"requeue", requeue,
		"redelivered", d.Redelivered,
		"error", err.Error(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
