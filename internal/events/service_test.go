package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.DB().AutoMigrate(&models.Event{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func newTestEventService(t *testing.T, client *db.Client) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:     client,
		Outbox: outbox.NewService(outbox.NewRepository(client.DB()), nil),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func validCreateRequest() CreateEventRequest {
	return CreateEventRequest{
		Title:    "Robotics demo night",
		Location: "Main hall",
		StartsAt: time.Now().Add(48 * time.Hour),
		Capacity: 2,
	}
}

func outboxRows(t *testing.T, client *db.Client, routingKey string) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := client.DB().Where("routing_key = ?", routingKey).Find(&rows).Error; err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	return rows
}

func TestCreateEmitsOutboxEventInSameTx(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	organizer := uuid.New()

	dto, err := svc.Create(context.Background(), organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dto.OrganizerID != organizer || dto.SeatsLeft != 2 {
		t.Fatalf("unexpected dto %+v", dto)
	}

	rows := outboxRows(t, client, RoutingKeyCreated)
	if len(rows) != 1 {
		t.Fatalf("expected 1 outbox row, got %d", len(rows))
	}
	if rows[0].AggregateType != enums.AggregateEvent || rows[0].AggregateID != dto.ID {
		t.Fatalf("outbox row not linked to event: %+v", rows[0])
	}
	if rows[0].Status != enums.OutboxPending {
		t.Fatalf("fresh outbox row must be pending, got %s", rows[0].Status)
	}
}

func TestCreateRequiresOrganizerRole(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)

	_, err := svc.Create(context.Background(), uuid.New(), enums.RoleStudent, validCreateRequest())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	organizer := uuid.New()

	req := validCreateRequest()
	req.Capacity = 0
	if _, err := svc.Create(context.Background(), organizer, enums.RoleOrganizer, req); pkgerrors.As(err) == nil {
		t.Fatalf("expected validation error for capacity, got %v", err)
	}

	req = validCreateRequest()
	ends := req.StartsAt.Add(-time.Hour)
	req.EndsAt = &ends
	if _, err := svc.Create(context.Background(), organizer, enums.RoleOrganizer, req); pkgerrors.As(err) == nil {
		t.Fatalf("expected validation error for ends_at, got %v", err)
	}
}

type failingEmitter struct{}

func (failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return errors.New("emit refused")
}

func TestCreateRollsBackWhenEmitFails(t *testing.T) {
	client := newTestDB(t)
	svc, err := NewService(ServiceParams{DB: client, Outbox: failingEmitter{}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.Create(context.Background(), uuid.New(), enums.RoleOrganizer, validCreateRequest()); err == nil {
		t.Fatalf("expected create to fail")
	}

	var count int64
	if err := client.DB().Model(&models.Event{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("event row must roll back with the failed emit, found %d", count)
	}
}

func TestUpdateEnforcesOwnership(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	ctx := context.Background()
	organizer := uuid.New()

	created, err := svc.Create(ctx, organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	title := "Hijacked"
	_, err = svc.Update(ctx, uuid.New(), enums.RoleOrganizer, created.ID, UpdateEventRequest{Title: &title})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign organizer, got %v", err)
	}

	// admins may edit any event
	updated, err := svc.Update(ctx, uuid.New(), enums.RoleAdmin, created.ID, UpdateEventRequest{Title: &title})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Title != "Hijacked" {
		t.Fatalf("title not applied: %q", updated.Title)
	}
	if len(outboxRows(t, client, RoutingKeyUpdated)) != 1 {
		t.Fatalf("expected one event.updated outbox row")
	}
}

func TestUpdateRejectsCapacityBelowSeatsTaken(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	ctx := context.Background()
	organizer := uuid.New()

	created, err := svc.Create(ctx, organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := client.DB().Model(&models.Event{}).Where("id = ?", created.ID).
		UpdateColumn("seats_taken", 2).Error; err != nil {
		t.Fatalf("seed seats: %v", err)
	}

	capacity := 1
	_, err = svc.Update(ctx, organizer, enums.RoleOrganizer, created.ID, UpdateEventRequest{Capacity: &capacity})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestDeleteSoftCancelsOnce(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	ctx := context.Background()
	organizer := uuid.New()

	created, err := svc.Create(ctx, organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(ctx, organizer, enums.RoleOrganizer, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsCancelled {
		t.Fatalf("event should be cancelled")
	}
	if len(outboxRows(t, client, RoutingKeyDeleted)) != 1 {
		t.Fatalf("expected one event.deleted outbox row")
	}

	err = svc.Delete(ctx, organizer, enums.RoleOrganizer, created.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("second delete should be a state conflict, got %v", err)
	}
}

func TestListSkipsCancelledByDefault(t *testing.T) {
	client := newTestDB(t)
	svc := newTestEventService(t, client)
	ctx := context.Background()
	organizer := uuid.New()

	keep, err := svc.Create(ctx, organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	gone, err := svc.Create(ctx, organizer, enums.RoleOrganizer, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, organizer, enums.RoleOrganizer, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	listed, err := svc.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != keep.ID {
		t.Fatalf("expected only the live event, got %+v", listed)
	}

	all, err := svc.List(ctx, ListFilter{IncludeCancelled: true})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both events with IncludeCancelled, got %d", len(all))
	}
}

func TestReserveAndReleaseSeatGuards(t *testing.T) {
	client := newTestDB(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	event := &models.Event{
		OrganizerID: uuid.New(),
		Title:       "Tiny venue",
		StartsAt:    time.Now().Add(time.Hour),
		Capacity:    1,
	}
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := repo.ReserveSeat(ctx, event.ID)
	if err != nil || !ok {
		t.Fatalf("first reserve should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = repo.ReserveSeat(ctx, event.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("full event must reject reservation")
	}

	if err := repo.ReleaseSeat(ctx, event.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	// replayed release must not drive the counter negative
	if err := repo.ReleaseSeat(ctx, event.ID); err != nil {
		t.Fatalf("second release: %v", err)
	}

	reloaded, err := repo.FindByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.SeatsTaken != 0 {
		t.Fatalf("seats_taken should settle at 0, got %d", reloaded.SeatsTaken)
	}

	ok, err = repo.ReserveSeat(ctx, uuid.New())
	if err != nil {
		t.Fatalf("reserve missing: %v", err)
	}
	if ok {
		t.Fatalf("missing event must reject reservation")
	}
}
