// Package notify publishes conversion notifications to the downstream
// queue.
package notify

import (
	"context"
	"encoding/json"

	v0 "refinery/internal/contracts/conversion/v0"
	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/ports"
)

type Publisher struct {
	q   ports.QueuePublisher
	log *logger.Logger
}

func NewPublisher(q ports.QueuePublisher, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Publisher{q: q, log: log.WithComponent("notify")}
}

// Publish validates n and sends it as JSON.
func (p *Publisher) Publish(ctx context.Context, n v0.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "notify.publish", "cannot encode notification")
	}
	if err := p.q.Publish(ctx, body); err != nil {
		return errors.Wrap(err, "notify.publish", "cannot publish notification")
	}
	p.log.FromContext(ctx).Debug("notification published",
		"model_id", n.ModelID,
		"key", n.File.Key,
	)
	return nil
}
