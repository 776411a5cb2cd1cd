package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/campushub-backend/pkg/bus"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

type fakeRepo struct {
	due        []models.OutboxEvent
	claimDeny  map[int64]bool
	published  []int64
	failed     []int64
	reclaimed  int64
	fetchErr   error
	reclaimErr error
}

func (f *fakeRepo) FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeRepo) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	if f.claimDeny[id] {
		return false, nil
	}
	return true, nil
}

func (f *fakeRepo) MarkPublished(ctx context.Context, id int64, now time.Time) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, row models.OutboxEvent, cause error, policy outbox.BackoffPolicy, now time.Time) error {
	f.failed = append(f.failed, row.ID)
	return nil
}

func (f *fakeRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.reclaimErr != nil {
		return 0, f.reclaimErr
	}
	return f.reclaimed, nil
}

type fakeBus struct {
	published  []bus.Message
	failOnKey  string
	publishErr error
}

func (f *fakeBus) Publish(ctx context.Context, msg bus.Message) error {
	if f.publishErr != nil && (f.failOnKey == "" || f.failOnKey == msg.RoutingKey) {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func testRow(id int64, key string) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            id,
		RoutingKey:    key,
		AggregateType: enums.AggregateEvent,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"n":1}`),
		Status:        enums.OutboxPending,
	}
}

func newTestService(t *testing.T, repo outboxRepository, b messageBus) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox = config.OutboxConfig{
		BatchSize:    20,
		PollInterval: time.Millisecond,
		MaxAttempts:  8,
		BackoffBase:  2 * time.Second,
		BackoffCap:   60 * time.Second,
	}
	logg := logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		Repository: repo,
		Bus:        b,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestTickPublishesDueRowsInOrder(t *testing.T) {
	repo := &fakeRepo{due: []models.OutboxEvent{testRow(1, "event.created"), testRow(2, "registration.created")}}
	b := &fakeBus{}
	svc := newTestService(t, repo, b)

	processed, err := svc.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !processed {
		t.Fatalf("tick should report work done")
	}

	if len(b.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(b.published))
	}
	if b.published[0].MessageID != "outbox-1" || b.published[1].MessageID != "outbox-2" {
		t.Fatalf("unexpected message ids %q, %q", b.published[0].MessageID, b.published[1].MessageID)
	}
	if b.published[0].AggregateType != "event" {
		t.Fatalf("unexpected aggregate type %q", b.published[0].AggregateType)
	}
	if len(repo.published) != 2 || repo.published[0] != 1 || repo.published[1] != 2 {
		t.Fatalf("rows not marked published in order: %v", repo.published)
	}
}

func TestTickSkipsRowsClaimedElsewhere(t *testing.T) {
	repo := &fakeRepo{
		due:       []models.OutboxEvent{testRow(1, "event.created"), testRow(2, "event.updated")},
		claimDeny: map[int64]bool{1: true},
	}
	b := &fakeBus{}
	svc := newTestService(t, repo, b)

	if _, err := svc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(b.published) != 1 || b.published[0].MessageID != "outbox-2" {
		t.Fatalf("only the claimed row should publish, got %v", b.published)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("lost claims must not count as failures")
	}
}

func TestTickMarksFailedOnPublishError(t *testing.T) {
	repo := &fakeRepo{due: []models.OutboxEvent{testRow(7, "event.created")}}
	b := &fakeBus{publishErr: errors.New("broker down")}
	svc := newTestService(t, repo, b)

	processed, err := svc.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !processed {
		t.Fatalf("failed rows still count as processed work")
	}
	if len(repo.failed) != 1 || repo.failed[0] != 7 {
		t.Fatalf("expected row 7 marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 0 {
		t.Fatalf("failed publish must not mark published")
	}
}

func TestTickEmptyBatchReportsIdle(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeBus{})

	processed, err := svc.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should report idle")
	}
}

func TestTickPropagatesFetchErrors(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db gone")}
	svc := newTestService(t, repo, &fakeBus{})

	if _, err := svc.tick(context.Background()); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
}

func TestNewServiceValidatesParams(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard})
	cfg := &config.Config{}

	if _, err := NewService(ServiceParams{Logger: logg, Repository: &fakeRepo{}, Bus: &fakeBus{}}); err == nil {
		t.Fatalf("expected error without config")
	}
	if _, err := NewService(ServiceParams{Config: cfg, Repository: &fakeRepo{}, Bus: &fakeBus{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewService(ServiceParams{Config: cfg, Logger: logg, Bus: &fakeBus{}}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewService(ServiceParams{Config: cfg, Logger: logg, Repository: &fakeRepo{}}); err == nil {
		t.Fatalf("expected error without bus")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeBus{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
