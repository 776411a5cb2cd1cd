package idempotency

import (
	"context"
	"errors"

	"gorm.io/gorm"

	dbpkg "github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
)

const consumptionConstraint = "uq_message_consumptions_consumer_message"

// Ledger records which messages each consumer has processed. It relies on
// the (consumer_name, message_id) unique constraint, so two concurrent
// deliveries of the same message race on the insert and exactly one wins.
type Ledger struct {
	db *gorm.DB
}

// NewLedger builds a ledger over the shared connection.
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Ledger{db: db}, nil
}

// Ensure records the (consumer, messageID) pair. It returns true when this
// is the first time the pair is seen and false for a duplicate. Messages
// without an ID cannot be deduplicated and always count as new.
func (l *Ledger) Ensure(ctx context.Context, consumer, messageID string) (bool, error) {
	if consumer == "" {
		return false, errors.New("consumer name is required")
	}
	if messageID == "" {
		return true, nil
	}
	return l.insert(l.db.WithContext(ctx), consumer, messageID)
}

// EnsureTx is Ensure inside an existing transaction, so the dedup record
// commits or rolls back together with the consumer's side effects.
func (l *Ledger) EnsureTx(tx *gorm.DB, consumer, messageID string) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if consumer == "" {
		return false, errors.New("consumer name is required")
	}
	if messageID == "" {
		return true, nil
	}
	return l.insert(tx, consumer, messageID)
}

func (l *Ledger) insert(conn *gorm.DB, consumer, messageID string) (bool, error) {
	row := models.MessageConsumption{
		ConsumerName: consumer,
		MessageID:    messageID,
	}
	if err := conn.Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, consumptionConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
