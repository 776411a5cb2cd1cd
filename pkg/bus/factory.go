package bus

import (
	"context"
	"fmt"

	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/logger"
)

// New builds the configured bus. A disabled bus yields the no-op client.
func New(ctx context.Context, cfg config.BusConfig, logg *logger.Logger) (Bus, error) {
	if !cfg.Enabled {
		if logg != nil {
			logg.Info(ctx, "message bus disabled, using no-op client")
		}
		return NewNoop(), nil
	}

	switch cfg.Driver {
	case config.BusDriverRabbitMQ:
		return NewRabbitMQ(cfg, logg)
	case config.BusDriverPubSub:
		return NewPubSub(ctx, cfg, logg)
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.Driver)
	}
}
