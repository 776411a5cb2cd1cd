package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/internal/events"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/outbox"
	"github.com/campushub/campushub-backend/pkg/saga"
)

// Routing keys emitted by the registrations module.
const (
	RoutingKeyCreated   = "registration.created"
	RoutingKeyCancelled = "registration.cancelled"
)

// Service defines the behavior needed by the registrations controller.
type Service interface {
	Register(ctx context.Context, userID uuid.UUID, userRole enums.UserRole, eventID uuid.UUID) (*RegistrationDTO, error)
	Cancel(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, registrationID uuid.UUID) error
	CheckIn(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, qrCode string) (*RegistrationDTO, error)
	ListMine(ctx context.Context, userID uuid.UUID) ([]RegistrationDTO, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type sagaRunner interface {
	Run(ctx context.Context, name string, steps []saga.Step) saga.Result
}

type service struct {
	db     *db.Client
	outbox outboxEmitter
	saga   sagaRunner
	now    func() time.Time
}

type ServiceParams struct {
	DB     *db.Client
	Outbox outboxEmitter
	Saga   sagaRunner
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	if params.Saga == nil {
		return nil, fmt.Errorf("saga executor is required")
	}
	return &service{
		db:     params.DB,
		outbox: params.Outbox,
		saga:   params.Saga,
		now:    time.Now,
	}, nil
}

// registrationPayload is the data section shipped inside the outbox envelope.
type registrationPayload struct {
	RegistrationID uuid.UUID                `json:"registrationId"`
	EventID        uuid.UUID                `json:"eventId"`
	UserID         uuid.UUID                `json:"userId"`
	Status         enums.RegistrationStatus `json:"status"`
}

// Register reserves a seat and then writes the registration row. The seat
// reservation is a separate conditional update, so a failure in the second
// step compensates by releasing the seat.
func (s *service) Register(ctx context.Context, userID uuid.UUID, userRole enums.UserRole, eventID uuid.UUID) (*RegistrationDTO, error) {
	if eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	eventsRepo := events.NewRepository(s.db.DB())
	var created *models.Registration

	steps := []saga.Step{
		{
			Name: "reserve-seat",
			Action: func(ctx context.Context) error {
				ok, err := eventsRepo.ReserveSeat(ctx, eventID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve seat")
				}
				if !ok {
					return s.explainReservationFailure(ctx, eventsRepo, eventID)
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return eventsRepo.ReleaseSeat(ctx, eventID)
			},
		},
		{
			Name: "create-registration",
			Action: func(ctx context.Context) error {
				reg, err := s.writeRegistration(ctx, eventID, userID, userRole)
				if err != nil {
					return err
				}
				created = reg
				return nil
			},
		},
	}

	result := s.saga.Run(ctx, "register-attendee", steps)
	if !result.Success {
		if typed := pkgerrors.As(result.Err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Err, "registration failed")
	}
	return FromModel(created), nil
}

// writeRegistration creates (or revives) the registration and enqueues the
// outbox event in one transaction.
func (s *service) writeRegistration(ctx context.Context, eventID, userID uuid.UUID, userRole enums.UserRole) (*models.Registration, error) {
	var out *models.Registration

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		existing, err := repo.FindByEventAndUser(ctx, eventID, userID)
		switch {
		case err == nil && existing.Status == enums.RegistrationCancelled:
			// a cancelled registration is revived with a fresh QR code
			existing.Status = enums.RegistrationConfirmed
			existing.QRCode = uuid.NewString()
			existing.CancelledAt = nil
			existing.CheckedInAt = nil
			if err := repo.Save(ctx, existing); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "revive registration")
			}
			out = existing
		case err == nil:
			return pkgerrors.New(pkgerrors.CodeConflict, "already registered for this event")
		case errors.Is(err, gorm.ErrRecordNotFound):
			reg := &models.Registration{
				EventID: eventID,
				UserID:  userID,
				Status:  enums.RegistrationConfirmed,
				QRCode:  uuid.NewString(),
			}
			if err := repo.Create(ctx, reg); err != nil {
				if db.IsUniqueViolation(err, "uq_registrations_event_user") {
					return pkgerrors.New(pkgerrors.CodeConflict, "already registered for this event")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create registration")
			}
			out = reg
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup registration")
		}

		return s.emit(ctx, tx, RoutingKeyCreated, out, userID, userRole)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Cancel(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, registrationID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		reg, err := repo.FindByID(ctx, registrationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup registration")
		}
		if actorRole != enums.RoleAdmin && reg.UserID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "registration belongs to another user")
		}
		switch reg.Status {
		case enums.RegistrationCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "registration already cancelled")
		case enums.RegistrationCheckedIn:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "checked-in registrations cannot be cancelled")
		}

		now := s.now().UTC()
		reg.Status = enums.RegistrationCancelled
		reg.CancelledAt = &now
		if err := repo.Save(ctx, reg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel registration")
		}

		if err := events.NewRepository(tx).ReleaseSeat(ctx, reg.EventID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release seat")
		}

		return s.emit(ctx, tx, RoutingKeyCancelled, reg, actorID, actorRole)
	})
}

// CheckIn marks the registration behind a QR code as attended. Only the
// event's organizer or an admin may scan.
func (s *service) CheckIn(ctx context.Context, actorID uuid.UUID, actorRole enums.UserRole, qrCode string) (*RegistrationDTO, error) {
	if qrCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qr code is required")
	}

	var out *models.Registration
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		reg, err := repo.FindByQRCode(ctx, qrCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup registration")
		}

		event, err := events.NewRepository(tx).FindByID(ctx, reg.EventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup event")
		}
		if actorRole != enums.RoleAdmin && event.OrganizerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the event organizer may check in attendees")
		}

		switch reg.Status {
		case enums.RegistrationCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "registration is cancelled")
		case enums.RegistrationCheckedIn:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "registration already checked in")
		}

		now := s.now().UTC()
		reg.Status = enums.RegistrationCheckedIn
		reg.CheckedInAt = &now
		if err := repo.Save(ctx, reg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check in registration")
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return FromModel(out), nil
}

func (s *service) ListMine(ctx context.Context, userID uuid.UUID) ([]RegistrationDTO, error) {
	repo := NewRepository(s.db.DB())
	rows, err := repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list registrations")
	}
	return FromModels(rows), nil
}

// explainReservationFailure turns a denied conditional update into the
// precise client-facing error.
func (s *service) explainReservationFailure(ctx context.Context, repo *events.Repository, eventID uuid.UUID) error {
	event, err := repo.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup event")
	}
	if event.IsCancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "event is cancelled")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "event is full")
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, routingKey string, reg *models.Registration, actorID uuid.UUID, actorRole enums.UserRole) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		RoutingKey:    routingKey,
		AggregateType: enums.AggregateRegistration,
		AggregateID:   reg.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: string(actorRole)},
		Data: registrationPayload{
			RegistrationID: reg.ID,
			EventID:        reg.EventID,
			UserID:         reg.UserID,
			Status:         reg.Status,
		},
		Version:    1,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue outbox event")
	}
	return nil
}
