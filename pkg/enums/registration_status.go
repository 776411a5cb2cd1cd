package enums

import "fmt"

// RegistrationStatus tracks an attendee's registration for an event.
type RegistrationStatus string

const (
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationCheckedIn RegistrationStatus = "checked_in"
)

var validRegistrationStatuses = []RegistrationStatus{
	RegistrationConfirmed,
	RegistrationCancelled,
	RegistrationCheckedIn,
}

// IsValid reports whether the value matches a known registration status.
func (s RegistrationStatus) IsValid() bool {
	for _, candidate := range validRegistrationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRegistrationStatus converts raw input into RegistrationStatus.
func ParseRegistrationStatus(value string) (RegistrationStatus, error) {
	for _, candidate := range validRegistrationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid registration status %q", value)
}
