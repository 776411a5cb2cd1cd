package models

import (
	"time"

	"github.com/campushub/campushub-backend/pkg/enums"
	"github.com/google/uuid"
)

// Registration links a user to an event. The (event_id, user_id) pair is
// unique so double registration surfaces as a constraint violation instead
// of a read-then-write race.
type Registration struct {
	ID          uuid.UUID                `gorm:"type:uuid;primaryKey"`
	EventID     uuid.UUID                `gorm:"column:event_id;type:uuid;not null;uniqueIndex:uq_registrations_event_user"`
	UserID      uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_registrations_event_user"`
	Status      enums.RegistrationStatus `gorm:"column:status;type:text;not null;default:confirmed"`
	QRCode      string                   `gorm:"column:qr_code;type:text;not null;uniqueIndex:uq_registrations_qr_code"`
	CheckedInAt *time.Time               `gorm:"column:checked_in_at"`
	CancelledAt *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
