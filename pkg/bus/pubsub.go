package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrSubscribeUnsupported is returned by the Pub/Sub driver, which is
// publish-only. Consumers run against RabbitMQ.
var ErrSubscribeUnsupported = errors.New("pubsub driver does not support subscriptions")

// PubSub publishes to a single GCP Pub/Sub topic. Routing keys travel as
// message attributes since Pub/Sub has no topic-exchange semantics.
type PubSub struct {
	client    *pubsub.Client
	projectID string
	topicID   string
	logg      *logger.Logger

	mu        sync.Mutex
	publisher *pubsub.Publisher
}

// NewPubSub creates the client and verifies the topic exists.
func NewPubSub(ctx context.Context, cfg config.BusConfig, logg *logger.Logger, opts ...option.ClientOption) (*PubSub, error) {
	if strings.TrimSpace(cfg.GCPProjectID) == "" {
		return nil, fmt.Errorf("gcp project id is required")
	}
	if strings.TrimSpace(cfg.PubSubTopic) == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	p := &PubSub{
		client:    client,
		projectID: cfg.GCPProjectID,
		topicID:   cfg.PubSubTopic,
		logg:      logg,
	}

	if err := p.ensureTopicExists(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return p, nil
}

func (p *PubSub) ensureTopicExists(ctx context.Context) error {
	fullName := fmt.Sprintf("projects/%s/topics/%s", p.projectID, p.topicID)
	_, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		// v2 uses gRPC errors; NotFound means the topic doesn't exist.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", p.topicID)
		}
		return fmt.Errorf("checking topic %q: %w", p.topicID, err)
	}
	return nil
}

func (p *PubSub) topicPublisher() *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publisher == nil {
		p.publisher = p.client.Publisher(p.topicID)
	}
	return p.publisher
}

// Publish sends one message with the routing key and aggregate identity as
// attributes, then blocks until the server acknowledges it.
func (p *PubSub) Publish(ctx context.Context, msg Message) error {
	if msg.RoutingKey == "" {
		return fmt.Errorf("routing key is required")
	}

	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	attrs := map[string]string{
		"routing_key": msg.RoutingKey,
		"message_id":  messageID,
	}
	if msg.AggregateType != "" {
		attrs["aggregate_type"] = msg.AggregateType
	}
	if msg.AggregateID != "" {
		attrs["aggregate_id"] = msg.AggregateID
	}

	result := p.topicPublisher().Publish(ctx, &pubsub.Message{
		Data:       msg.Payload,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topicID, err)
	}

	if p.logg != nil {
		p.logg.Debug(p.logg.WithRoutingKey(ctx, msg.RoutingKey), "message published")
	}
	return nil
}

// Subscribe is not supported on this driver.
func (p *PubSub) Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) error {
	return ErrSubscribeUnsupported
}

// Close stops the publisher and releases the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.publisher != nil {
		p.publisher.Stop()
		p.publisher = nil
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSub) Enabled() bool {
	return true
}
