package models

import "time"

// MessageConsumption records that a consumer processed a message. The
// (consumer_name, message_id) pair is unique, which is what makes the
// idempotency check race-free under concurrent deliveries.
type MessageConsumption struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ConsumerName string    `gorm:"column:consumer_name;type:text;not null;uniqueIndex:uq_message_consumptions_consumer_message"`
	MessageID    string    `gorm:"column:message_id;type:text;not null;uniqueIndex:uq_message_consumptions_consumer_message"`
	ConsumedAt   time.Time `gorm:"column:consumed_at;autoCreateTime"`
}
