package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/campushub/campushub-backend/pkg/enums"
	"github.com/google/uuid"
)

// OutboxEvent is a pending publication written in the same transaction as
// the state change it describes. The autoincrement ID doubles as the bus
// message identifier ("outbox-<id>") and gives the relay a stable drain
// order.
type OutboxEvent struct {
	ID            int64                     `gorm:"column:id;primaryKey;autoIncrement"`
	RoutingKey    string                    `gorm:"column:routing_key;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus        `gorm:"column:status;type:text;not null;default:pending;index:idx_outbox_events_status_available,priority:1"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	AvailableAt   time.Time                 `gorm:"column:available_at;not null;index:idx_outbox_events_status_available,priority:2"`
	LastError     *string                   `gorm:"column:last_error"`
	ClaimedAt     *time.Time                `gorm:"column:claimed_at"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

// MessageID renders the bus message identifier for this row.
func (o OutboxEvent) MessageID() string {
	return "outbox-" + strconv.FormatInt(o.ID, 10)
}
