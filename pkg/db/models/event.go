package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a campus event attendees can register for. SeatsTaken is only
// ever moved by conditional updates so capacity can never be oversold.
type Event struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OrganizerID uuid.UUID  `gorm:"column:organizer_id;type:uuid;not null;index"`
	Title       string     `gorm:"type:text;not null"`
	Description string     `gorm:"type:text"`
	Location    string     `gorm:"type:text"`
	StartsAt    time.Time  `gorm:"column:starts_at;not null;index"`
	EndsAt      *time.Time `gorm:"column:ends_at"`
	Capacity    int        `gorm:"column:capacity;not null"`
	SeatsTaken  int        `gorm:"column:seats_taken;not null;default:0"`
	IsCancelled bool       `gorm:"column:is_cancelled;not null;default:false"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// SeatsLeft returns remaining capacity, never negative.
func (e Event) SeatsLeft() int {
	left := e.Capacity - e.SeatsTaken
	if left < 0 {
		return 0
	}
	return left
}
