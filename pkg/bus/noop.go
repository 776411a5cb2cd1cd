package bus

import "context"

// Noop is the disabled bus. Publishes succeed without side effects and
// subscriptions never receive deliveries, so the app runs without a broker
// and outbox rows simply wait as pending.
type Noop struct{}

// NewNoop returns the disabled bus.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Publish(ctx context.Context, msg Message) error {
	return nil
}

func (n *Noop) Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) error {
	if err := opts.validate(); err != nil {
		return err
	}
	return nil
}

func (n *Noop) Close() error {
	return nil
}

func (n *Noop) Enabled() bool {
	return false
}
