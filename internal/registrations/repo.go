package registrations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db/models"
)

// Repository exposes registration persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, reg *models.Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).First(&reg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Repository) FindByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&reg).Error
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Repository) FindByQRCode(ctx context.Context, qrCode string) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).Where("qr_code = ?", qrCode).First(&reg).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Registration, error) {
	var out []models.Registration
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) Save(ctx context.Context, reg *models.Registration) error {
	return r.db.WithContext(ctx).Save(reg).Error
}
