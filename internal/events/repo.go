package events

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db/models"
)

const defaultListLimit = 50

// Repository exposes event persistence. Seat movement goes through the
// conditional ReserveSeat/ReleaseSeat updates only.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Event, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.Event{})
	if filter.OrganizerID != nil {
		query = query.Where("organizer_id = ?", *filter.OrganizerID)
	}
	if !filter.IncludeCancelled {
		query = query.Where("is_cancelled = ?", false)
	}

	var out []models.Event
	err := query.Order("starts_at ASC").Limit(limit).Offset(filter.Offset).Find(&out).Error
	return out, err
}

func (r *Repository) Save(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Save(event).Error
}

// ReserveSeat takes one seat with a conditional increment. Returns false
// when the event is cancelled, missing, or already full.
func (r *Repository) ReserveSeat(ctx context.Context, eventID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND is_cancelled = ? AND seats_taken < capacity", eventID, false).
		UpdateColumn("seats_taken", gorm.Expr("seats_taken + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSeat undoes a reservation. The seats_taken > 0 guard keeps the
// counter from going negative if a release is replayed.
func (r *Repository) ReleaseSeat(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND seats_taken > 0", eventID).
		UpdateColumn("seats_taken", gorm.Expr("seats_taken - 1")).Error
}
