package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/campushub/campushub-backend/pkg/db/models"
)

type EventDTO struct {
	ID          uuid.UUID  `json:"id"`
	OrganizerID uuid.UUID  `json:"organizer_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Capacity    int        `json:"capacity"`
	SeatsTaken  int        `json:"seats_taken"`
	SeatsLeft   int        `json:"seats_left"`
	IsCancelled bool       `json:"is_cancelled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CreateEventRequest struct {
	Title       string     `json:"title" validate:"required,min=1,max=255"`
	Description string     `json:"description" validate:"max=4000"`
	Location    string     `json:"location" validate:"max=255"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	Capacity    int        `json:"capacity" validate:"required,min=1"`
}

// UpdateEventRequest carries partial updates. Nil fields are left untouched.
type UpdateEventRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=4000"`
	Location    *string    `json:"location" validate:"omitempty,max=255"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Capacity    *int       `json:"capacity" validate:"omitempty,min=1"`
}

type ListFilter struct {
	OrganizerID      *uuid.UUID
	IncludeCancelled bool
	Limit            int
	Offset           int
}

func FromModel(e *models.Event) *EventDTO {
	if e == nil {
		return nil
	}
	return &EventDTO{
		ID:          e.ID,
		OrganizerID: e.OrganizerID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
		Capacity:    e.Capacity,
		SeatsTaken:  e.SeatsTaken,
		SeatsLeft:   e.SeatsLeft(),
		IsCancelled: e.IsCancelled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func FromModels(list []models.Event) []EventDTO {
	out := make([]EventDTO, 0, len(list))
	for i := range list {
		out = append(out, *FromModel(&list[i]))
	}
	return out
}
