package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicateMessage is returned by handlers that detect an already
// processed message. The client resolves the delivery according to the
// subscription's DuplicatePolicy instead of treating it as a failure.
var ErrDuplicateMessage = errors.New("duplicate message")

// Message is an outbound event envelope.
type Message struct {
	RoutingKey    string
	MessageID     string
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
}

// Delivery is an inbound message handed to a subscriber.
type Delivery struct {
	MessageID   string
	RoutingKey  string
	Body        []byte
	Redelivered bool
}

// Handler processes one delivery. Returning nil acknowledges the message,
// ErrDuplicateMessage applies the duplicate policy, any other error drops
// the message without requeue so a poison message cannot loop forever.
type Handler func(ctx context.Context, d Delivery) error

// DuplicatePolicy decides what happens to a delivery the handler reported
// as a duplicate.
type DuplicatePolicy string

const (
	// DuplicateAck acknowledges the duplicate and moves on.
	DuplicateAck DuplicatePolicy = "ack"
	// DuplicateRequeue returns the duplicate to the queue.
	DuplicateRequeue DuplicatePolicy = "requeue"
	// DuplicateReject drops the duplicate without requeue.
	DuplicateReject DuplicatePolicy = "reject"
)

var validDuplicatePolicies = []DuplicatePolicy{
	DuplicateAck,
	DuplicateRequeue,
	DuplicateReject,
}

// IsValid reports whether the value matches a known policy.
func (p DuplicatePolicy) IsValid() bool {
	for _, candidate := range validDuplicatePolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseDuplicatePolicy converts raw input into DuplicatePolicy.
func ParseDuplicatePolicy(value string) (DuplicatePolicy, error) {
	for _, candidate := range validDuplicatePolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid duplicate policy %q", value)
}

// SubscribeOptions describes one consumer of the topic exchange.
type SubscribeOptions struct {
	// Consumer names the durable queue. Each consumer name gets its own
	// queue, so distinct consumers each receive a copy of matching events.
	Consumer string
	// Bindings are topic patterns such as "event.*" or "registration.created".
	Bindings []string
	// OnDuplicate defaults to DuplicateAck.
	OnDuplicate DuplicatePolicy
}

func (o SubscribeOptions) validate() error {
	if o.Consumer == "" {
		return fmt.Errorf("consumer name is required")
	}
	if len(o.Bindings) == 0 {
		return fmt.Errorf("at least one binding is required")
	}
	if o.OnDuplicate != "" && !o.OnDuplicate.IsValid() {
		return fmt.Errorf("invalid duplicate policy %q", o.OnDuplicate)
	}
	return nil
}

func (o SubscribeOptions) duplicatePolicy() DuplicatePolicy {
	if o.OnDuplicate == "" {
		return DuplicateAck
	}
	return o.OnDuplicate
}

// Bus is the messaging surface the rest of the platform depends on.
type Bus interface {
	// Publish sends one message to the topic exchange.
	Publish(ctx context.Context, msg Message) error
	// Subscribe starts a consumer and returns once it is wired up.
	// Deliveries are handled on a background goroutine until ctx ends.
	Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) error
	// Close tears down connections. Safe to call more than once.
	Close() error
	// Enabled reports whether publishes actually reach a broker.
	Enabled() bool
}
