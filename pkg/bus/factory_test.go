package bus

import (
	"context"
	"testing"

	"github.com/campushub/campushub-backend/pkg/config"
)

func TestNewDisabledBusIsNoop(t *testing.T) {
	b, err := New(context.Background(), config.BusConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(*Noop); !ok {
		t.Fatalf("expected no-op bus, got %T", b)
	}
	if b.Enabled() {
		t.Fatalf("disabled bus must report Enabled=false")
	}

	if err := b.Publish(context.Background(), Message{RoutingKey: "event.created"}); err != nil {
		t.Fatalf("disabled publish must succeed: %v", err)
	}
	err = b.Subscribe(context.Background(), SubscribeOptions{
		Consumer: "audit-log",
		Bindings: []string{"event.*"},
	}, func(ctx context.Context, d Delivery) error { return nil })
	if err != nil {
		t.Fatalf("disabled subscribe must succeed: %v", err)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.BusConfig{Enabled: true, Driver: "kafka"}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewRabbitMQRequiresURLAndExchange(t *testing.T) {
	if _, err := NewRabbitMQ(config.BusConfig{Exchange: "campus-hub.events"}, nil); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if _, err := NewRabbitMQ(config.BusConfig{URL: "amqp://localhost"}, nil); err == nil {
		t.Fatalf("expected error for missing exchange")
	}
}
