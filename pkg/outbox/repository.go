package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends an outbox row inside the caller's transaction. Requiring
// the tx is what makes enqueueing atomic with the business write.
func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.Status == "" {
		event.Status = enums.OutboxPending
	}
	if event.AvailableAt.IsZero() {
		event.AvailableAt = time.Now()
	}
	return tx.Create(event).Error
}

// FetchDueBatch returns pending rows that are due, oldest id first.
func (r *Repository) FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_at <= ?", enums.OutboxPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim flips one pending row to processing. Returns false when another
// relay instance got there first; the status guard is the whole mechanism.
func (r *Repository) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxPending).
		Updates(map[string]any{
			"status":     enums.OutboxProcessing,
			"claimed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkPublished finishes a row. Safe to call twice: the second call finds
// the row already published and changes nothing.
func (r *Repository) MarkPublished(ctx context.Context, id int64, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status <> ?", id, enums.OutboxPublished).
		Updates(map[string]any{
			"status":       enums.OutboxPublished,
			"published_at": now,
			"claimed_at":   nil,
			"last_error":   nil,
		}).Error
}

// MarkFailed records a publish failure for a processing row. Until attempts
// reach the policy's limit the row goes back to pending with a delay of
// min(cap, base*2^(attempts-1)); after that it parks as failed.
func (r *Repository) MarkFailed(ctx context.Context, row models.OutboxEvent, cause error, policy BackoffPolicy, now time.Time) error {
	attempts := row.Attempts + 1

	updates := map[string]any{
		"attempts":   attempts,
		"last_error": cause.Error(),
		"claimed_at": nil,
	}
	if policy.Exhausted(attempts) {
		updates["status"] = enums.OutboxFailed
	} else {
		updates["status"] = enums.OutboxPending
		updates["available_at"] = now.Add(policy.Delay(attempts))
	}

	return r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", row.ID, enums.OutboxProcessing).
		Updates(updates).Error
}

// ReclaimStale returns processing rows claimed before the cutoff to
// pending. Covers relays that crashed between claim and publish.
func (r *Repository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("status = ? AND claimed_at < ?", enums.OutboxProcessing, cutoff).
		Updates(map[string]any{
			"status":     enums.OutboxPending,
			"claimed_at": nil,
		})
	return result.RowsAffected, result.Error
}

// CountByStatus reports how many rows sit in each status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error) {
	type bucket struct {
		Status enums.OutboxStatus
		Total  int64
	}
	var buckets []bucket
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("status, count(*) as total").
		Group("status").
		Find(&buckets).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.OutboxStatus]int64, len(buckets))
	for _, b := range buckets {
		counts[b.Status] = b.Total
	}
	return counts, nil
}
