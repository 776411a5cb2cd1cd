package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/logger"
)

// amqpChannel is the slice of *amqp.Channel the client actually uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitMQ is a topic-exchange client over a single lazily opened
// connection. The mutex keeps connection setup single-flight; publishes
// after a broker close redial transparently.
type RabbitMQ struct {
	url      string
	exchange string
	logg     *logger.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        amqpChannel
	consumers map[string]bool
}

// NewRabbitMQ builds the client without connecting. The first publish or
// subscribe dials the broker.
func NewRabbitMQ(cfg config.BusConfig, logg *logger.Logger) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bus url is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("bus exchange is required")
	}
	return &RabbitMQ{
		url:       cfg.URL,
		exchange:  cfg.Exchange,
		logg:      logg,
		consumers: map[string]bool{},
	}, nil
}

func (r *RabbitMQ) channel() (amqpChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelLocked()
}

func (r *RabbitMQ) channelLocked() (amqpChannel, error) {
	if r.ch != nil {
		return r.ch, nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", r.exchange, err)
	}

	// Broker-side closes invalidate the channel; drop it so the next call
	// redials.
	closings := make(chan *amqp.Error, 1)
	conn.NotifyClose(closings)
	go func() {
		<-closings
		r.mu.Lock()
		r.conn = nil
		r.ch = nil
		r.mu.Unlock()
	}()

	r.conn = conn
	r.ch = ch
	return ch, nil
}

// Publish sends one persistent JSON message to the topic exchange.
func (r *RabbitMQ) Publish(ctx context.Context, msg Message) error {
	if msg.RoutingKey == "" {
		return fmt.Errorf("routing key is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	if msg.AggregateType != "" {
		headers["aggregate_type"] = msg.AggregateType
	}
	if msg.AggregateID != "" {
		headers["aggregate_id"] = msg.AggregateID
	}

	body := msg.Payload
	if body == nil {
		body = json.RawMessage("{}")
	}

	// Consumers dedup on the message id, so every message gets one.
	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	err = ch.Publish(r.exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", msg.RoutingKey, err)
	}

	if r.logg != nil {
		r.logg.Debug(r.logg.WithRoutingKey(ctx, msg.RoutingKey), "message published")
	}
	return nil
}

// Subscribe declares a durable queue named after the consumer, binds it to
// the requested topic patterns, and handles deliveries on a goroutine.
// A consumer name can only be started once per process.
func (r *RabbitMQ) Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	r.mu.Lock()
	if r.consumers[opts.Consumer] {
		r.mu.Unlock()
		return fmt.Errorf("consumer %q already subscribed", opts.Consumer)
	}
	ch, err := r.channelLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.consumers[opts.Consumer] = true
	r.mu.Unlock()

	queue, err := ch.QueueDeclare(opts.Consumer, true, false, false, false, nil)
	if err != nil {
		r.forgetConsumer(opts.Consumer)
		return fmt.Errorf("declaring queue %s: %w", opts.Consumer, err)
	}

	for _, binding := range opts.Bindings {
		if err := ch.QueueBind(queue.Name, binding, r.exchange, false, nil); err != nil {
			r.forgetConsumer(opts.Consumer)
			return fmt.Errorf("binding %s to %s: %w", queue.Name, binding, err)
		}
	}

	deliveries, err := ch.Consume(queue.Name, opts.Consumer, false, false, false, false, nil)
	if err != nil {
		r.forgetConsumer(opts.Consumer)
		return fmt.Errorf("consuming from %s: %w", queue.Name, err)
	}

	go r.consumeLoop(ctx, opts, deliveries, handler)
	return nil
}

// forgetConsumer releases a consumer name reserved by Subscribe so a
// failed wiring attempt can be retried.
func (r *RabbitMQ) forgetConsumer(name string) {
	r.mu.Lock()
	delete(r.consumers, name)
	r.mu.Unlock()
}

func (r *RabbitMQ) consumeLoop(ctx context.Context, opts SubscribeOptions, deliveries <-chan amqp.Delivery, handler Handler) {
	policy := opts.duplicatePolicy()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			r.handleDelivery(ctx, opts.Consumer, policy, raw, handler)
		}
	}
}

func (r *RabbitMQ) handleDelivery(ctx context.Context, consumer string, policy DuplicatePolicy, raw amqp.Delivery, handler Handler) {
	dctx := ctx
	if r.logg != nil {
		dctx = r.logg.WithConsumer(ctx, consumer)
		dctx = r.logg.WithRoutingKey(dctx, raw.RoutingKey)
	}

	err := handler(dctx, Delivery{
		MessageID:   raw.MessageId,
		RoutingKey:  raw.RoutingKey,
		Body:        raw.Body,
		Redelivered: raw.Redelivered,
	})

	switch {
	case err == nil:
		if ackErr := raw.Ack(false); ackErr != nil && r.logg != nil {
			r.logg.Error(dctx, "ack failed", ackErr)
		}

	case errors.Is(err, ErrDuplicateMessage):
		r.resolveDuplicate(dctx, policy, raw)

	default:
		if r.logg != nil {
			r.logg.Warn(dctx, fmt.Sprintf("handler failed, dropping message %s: %v", raw.MessageId, err))
		}
		// requeue=false: a poison message must not loop forever
		if nackErr := raw.Nack(false, false); nackErr != nil && r.logg != nil {
			r.logg.Error(dctx, "nack failed", nackErr)
		}
	}
}

func (r *RabbitMQ) resolveDuplicate(ctx context.Context, policy DuplicatePolicy, raw amqp.Delivery) {
	var err error
	switch policy {
	case DuplicateRequeue:
		err = raw.Nack(false, true)
	case DuplicateReject:
		err = raw.Reject(false)
	default:
		err = raw.Ack(false)
	}
	if err != nil && r.logg != nil {
		r.logg.Error(ctx, "resolving duplicate failed", err)
	}
}

// Close tears down the channel and connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			errs = append(errs, err)
		}
		r.ch = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		r.conn = nil
	}
	return errors.Join(errs...)
}

func (r *RabbitMQ) Enabled() bool {
	return true
}
