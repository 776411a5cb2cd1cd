package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/campushub/campushub-backend/pkg/bus"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/metrics"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

const (
	defaultBatchSize      = 20
	defaultPollInterval   = 5 * time.Second
	defaultPublishTimeout = 15 * time.Second
	defaultStaleThreshold = 5 * time.Minute
	maxErrorBackoff       = 30 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxRepository interface {
	FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkPublished(ctx context.Context, id int64, now time.Time) error
	MarkFailed(ctx context.Context, row models.OutboxEvent, cause error, policy outbox.BackoffPolicy, now time.Time) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageBus interface {
	Publish(ctx context.Context, msg bus.Message) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Repository outboxRepository
	Bus        messageBus
	Metrics    *metrics.RelayMetrics
}

type Service struct {
	logg           *logger.Logger
	repo           outboxRepository
	bus            messageBus
	metrics        *metrics.RelayMetrics
	policy         outbox.BackoffPolicy
	batchSize      int
	pollInterval   time.Duration
	staleThreshold time.Duration
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Bus == nil {
		return nil, errors.New("message bus is required")
	}

	cfg := params.Config.Outbox

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	stale := cfg.StaleThreshold
	if stale <= 0 {
		stale = defaultStaleThreshold
	}

	policy := outbox.DefaultBackoff
	if cfg.BackoffBase > 0 {
		policy.Base = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		policy.Cap = cfg.BackoffCap
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	return &Service{
		logg:           params.Logger,
		repo:           params.Repository,
		bus:            params.Bus,
		metrics:        params.Metrics,
		policy:         policy,
		batchSize:      batch,
		pollInterval:   interval,
		staleThreshold: stale,
		now:            time.Now,
	}, nil
}

// Run polls the outbox until the context ends. Errors back off with jitter
// instead of hammering a broken dependency.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := s.pollInterval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox relay context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.tick(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox relay tick error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxErrorBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval

		if processed {
			// keep draining while there is work
			continue
		}

		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// tick runs one relay pass: recover stale claims, fetch due rows, publish
// each one. Returns true when any row was handled.
func (s *Service) tick(ctx context.Context) (bool, error) {
	now := s.now()

	reclaimed, err := s.repo.ReclaimStale(ctx, now.Add(-s.staleThreshold))
	if err != nil {
		return false, fmt.Errorf("reclaiming stale rows: %w", err)
	}
	if reclaimed > 0 {
		s.metrics.AddReclaimed(reclaimed)
		s.logg.Warn(s.logg.WithField(ctx, "count", reclaimed), "reclaimed stale outbox rows")
	}

	rows, err := s.repo.FetchDueBatch(ctx, now, s.batchSize)
	if err != nil {
		return false, fmt.Errorf("fetching due batch: %w", err)
	}
	s.metrics.ObserveBatchSize(len(rows))
	if len(rows) == 0 {
		return false, nil
	}

	for _, row := range rows {
		if err := s.relayRow(ctx, row); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Service) relayRow(ctx context.Context, row models.OutboxEvent) error {
	fields := map[string]any{
		"outbox_id":    row.ID,
		"routing_key":  row.RoutingKey,
		"aggregate_id": row.AggregateID.String(),
		"attempts":     row.Attempts,
	}
	rowCtx := s.logg.WithFields(ctx, fields)

	claimed, err := s.repo.Claim(ctx, row.ID, s.now())
	if err != nil {
		return fmt.Errorf("claiming row %d: %w", row.ID, err)
	}
	if !claimed {
		// another relay instance won the row
		return nil
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	started := s.now()
	err = s.bus.Publish(publishCtx, bus.Message{
		RoutingKey:    row.RoutingKey,
		MessageID:     row.MessageID(),
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID.String(),
		Payload:       row.Payload,
	})
	cancel()
	s.metrics.ObservePublishDuration(row.RoutingKey, s.now().Sub(started))

	if err != nil {
		s.logg.Warn(s.logg.WithField(rowCtx, "error", err.Error()), "outbox publish failed")
		if s.policy.Exhausted(row.Attempts + 1) {
			s.metrics.IncExhausted(row.RoutingKey)
		} else {
			s.metrics.IncRetried(row.RoutingKey)
		}
		if markErr := s.repo.MarkFailed(ctx, row, err, s.policy, s.now()); markErr != nil {
			return fmt.Errorf("marking row %d failed: %w", row.ID, markErr)
		}
		return nil
	}

	if markErr := s.repo.MarkPublished(ctx, row.ID, s.now()); markErr != nil {
		return fmt.Errorf("marking row %d published: %w", row.ID, markErr)
	}
	s.metrics.IncPublished(row.RoutingKey)
	s.logg.Info(rowCtx, "outbox event published")
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
