package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/campushub/campushub-backend/pkg/bus"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

// ConsumerName is the durable queue name for the audit trail.
const ConsumerName = "audit-log"

var bindings = []string{"event.*", "registration.*"}

type ledger interface {
	Ensure(ctx context.Context, consumer, messageID string) (bool, error)
}

// Consumer writes an audit log line for every fresh domain event on the bus.
// Redeliveries are detected through the idempotency ledger and acked away.
type Consumer struct {
	ledger ledger
	logg   *logger.Logger
}

func NewConsumer(l ledger, logg *logger.Logger) (*Consumer, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Consumer{ledger: l, logg: logg}, nil
}

// Start subscribes the consumer on the bus. Deliveries arrive on a
// background goroutine until ctx ends.
func (c *Consumer) Start(ctx context.Context, b bus.Bus) error {
	if b == nil {
		return fmt.Errorf("bus is required")
	}
	return b.Subscribe(ctx, bus.SubscribeOptions{
		Consumer:    ConsumerName,
		Bindings:    bindings,
		OnDuplicate: bus.DuplicateAck,
	}, c.Handle)
}

// Handle processes one delivery. Duplicates surface as ErrDuplicateMessage
// so the bus applies the subscription's duplicate policy.
func (c *Consumer) Handle(ctx context.Context, d bus.Delivery) error {
	isNew, err := c.ledger.Ensure(ctx, ConsumerName, d.MessageID)
	if err != nil {
		return fmt.Errorf("recording consumption: %w", err)
	}
	if !isNew {
		return bus.ErrDuplicateMessage
	}

	logCtx := c.logg.WithConsumer(ctx, ConsumerName)
	logCtx = c.logg.WithRoutingKey(logCtx, d.RoutingKey)
	logCtx = c.logg.WithField(logCtx, "message_id", d.MessageID)

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		// malformed payloads are acked so they cannot loop forever
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "audit event with unreadable payload")
		return nil
	}

	fields := map[string]any{
		"event_id":    envelope.EventID,
		"occurred_at": envelope.OccurredAt,
		"redelivered": d.Redelivered,
	}
	if envelope.Actor != nil {
		fields["actor_id"] = envelope.Actor.UserID.String()
		fields["actor_role"] = envelope.Actor.Role
	}
	c.logg.Info(c.logg.WithFields(logCtx, fields), "audit event recorded")
	return nil
}
