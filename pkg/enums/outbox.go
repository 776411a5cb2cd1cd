package enums

import "fmt"

// OutboxStatus tracks an outbox row through the relay lifecycle.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
	OutboxFailed     OutboxStatus = "failed"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxPending,
	OutboxProcessing,
	OutboxPublished,
	OutboxFailed,
}

// IsValid reports whether the value matches a known outbox status.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a resting state the relay will
// never pick up again.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxPublished || s == OutboxFailed
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// OutboxAggregateType names the domain entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateEvent        OutboxAggregateType = "event"
	AggregateRegistration OutboxAggregateType = "registration"
	AggregateUser         OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateEvent,
	AggregateRegistration,
	AggregateUser,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}
