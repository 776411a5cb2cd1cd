package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

// Routing keys emitted by the events module.
const (
	RoutingKeyCreated = "event.created"
	RoutingKeyUpdated = "event.updated"
	RoutingKeyDeleted = "event.deleted"
)

// Service defines the behavior needed by the events controller.
type Service interface {
	Create(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, req CreateEventRequest) (*EventDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*EventDTO, error)
	List(ctx context.Context, filter ListFilter) ([]EventDTO, error)
	Update(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, id uuid.UUID, req UpdateEventRequest) (*EventDTO, error)
	Delete(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	db     *db.Client
	outbox outboxEmitter
	now    func() time.Time
}

type ServiceParams struct {
	DB     *db.Client
	Outbox outboxEmitter
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	return &service{db: params.DB, outbox: params.Outbox, now: time.Now}, nil
}

// eventPayload is the data section shipped inside the outbox envelope.
type eventPayload struct {
	EventID     uuid.UUID  `json:"eventId"`
	OrganizerID uuid.UUID  `json:"organizerId"`
	Title       string     `json:"title"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	Capacity    int        `json:"capacity"`
	IsCancelled bool       `json:"isCancelled"`
}

func payloadFor(event *models.Event) eventPayload {
	return eventPayload{
		EventID:     event.ID,
		OrganizerID: event.OrganizerID,
		Title:       event.Title,
		StartsAt:    event.StartsAt,
		EndsAt:      event.EndsAt,
		Capacity:    event.Capacity,
		IsCancelled: event.IsCancelled,
	}
}

func (s *service) Create(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, req CreateEventRequest) (*EventDTO, error) {
	if err := requireOrganizer(actorRole); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if req.Capacity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be at least 1")
	}
	if req.StartsAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "starts_at is required")
	}
	if req.EndsAt != nil && !req.EndsAt.After(req.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be after starts_at")
	}

	event := &models.Event{
		OrganizerID: actorID,
		Title:       title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if err := repo.Create(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create event")
		}
		return s.emit(ctx, tx, RoutingKeyCreated, event, actorID, actorRole)
	})
	if err != nil {
		return nil, err
	}
	return FromModel(event), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*EventDTO, error) {
	repo := NewRepository(s.db.DB())
	event, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup event")
	}
	return FromModel(event), nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]EventDTO, error) {
	repo := NewRepository(s.db.DB())
	rows, err := repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list events")
	}
	return FromModels(rows), nil
}

func (s *service) Update(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, id uuid.UUID, req UpdateEventRequest) (*EventDTO, error) {
	var updated *models.Event

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		event, err := s.loadOwned(ctx, repo, id, actorID, actorRole)
		if err != nil {
			return err
		}
		if event.IsCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled events cannot be updated")
		}

		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
			}
			event.Title = title
		}
		if req.Description != nil {
			event.Description = *req.Description
		}
		if req.Location != nil {
			event.Location = *req.Location
		}
		if req.StartsAt != nil {
			event.StartsAt = *req.StartsAt
		}
		if req.EndsAt != nil {
			event.EndsAt = req.EndsAt
		}
		if req.Capacity != nil {
			if *req.Capacity < event.SeatsTaken {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "capacity cannot drop below seats already taken")
			}
			event.Capacity = *req.Capacity
		}
		if event.EndsAt != nil && !event.EndsAt.After(event.StartsAt) {
			return pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be after starts_at")
		}

		if err := repo.Save(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update event")
		}
		updated = event
		return s.emit(ctx, tx, RoutingKeyUpdated, event, actorID, actorRole)
	})
	if err != nil {
		return nil, err
	}
	return FromModel(updated), nil
}

// Delete is a soft cancel so registrations keep their history.
func (s *service) Delete(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		event, err := s.loadOwned(ctx, repo, id, actorID, actorRole)
		if err != nil {
			return err
		}
		if event.IsCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "event already cancelled")
		}

		event.IsCancelled = true
		if err := repo.Save(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel event")
		}
		return s.emit(ctx, tx, RoutingKeyDeleted, event, actorID, actorRole)
	})
}

func (s *service) loadOwned(ctx context.Context, repo *Repository, id, actorID uuid.UUID, actorRole enums.UserRole) (*models.Event, error) {
	event, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup event")
	}
	if actorRole != enums.RoleAdmin && event.OrganizerID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "event belongs to another organizer")
	}
	return event, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, routingKey string, event *models.Event, actorID uuid.UUID, actorRole enums.UserRole) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		RoutingKey:    routingKey,
		AggregateType: enums.AggregateEvent,
		AggregateID:   event.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: string(actorRole)},
		Data:          payloadFor(event),
		Version:       1,
		OccurredAt:    s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue outbox event")
	}
	return nil
}

func requireOrganizer(role enums.UserRole) error {
	if role != enums.RoleOrganizer && role != enums.RoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "organizer role required")
	}
	return nil
}
