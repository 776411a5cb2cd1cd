package registrations

import (
	"time"

	"github.com/google/uuid"

	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
)

type RegistrationDTO struct {
	ID          uuid.UUID                `json:"id"`
	EventID     uuid.UUID                `json:"event_id"`
	UserID      uuid.UUID                `json:"user_id"`
	Status      enums.RegistrationStatus `json:"status"`
	QRCode      string                   `json:"qr_code"`
	CheckedInAt *time.Time               `json:"checked_in_at,omitempty"`
	CancelledAt *time.Time               `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

type CheckInRequest struct {
	QRCode string `json:"qr_code" validate:"required"`
}

func FromModel(r *models.Registration) *RegistrationDTO {
	if r == nil {
		return nil
	}
	return &RegistrationDTO{
		ID:          r.ID,
		EventID:     r.EventID,
		UserID:      r.UserID,
		Status:      r.Status,
		QRCode:      r.QRCode,
		CheckedInAt: r.CheckedInAt,
		CancelledAt: r.CancelledAt,
		CreatedAt:   r.CreatedAt,
	}
}

func FromModels(list []models.Registration) []RegistrationDTO {
	out := make([]RegistrationDTO, 0, len(list))
	for i := range list {
		out = append(out, *FromModel(&list[i]))
	}
	return out
}
