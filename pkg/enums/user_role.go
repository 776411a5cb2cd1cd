package enums

import "fmt"

// UserRole controls what a user may do across the API surface.
type UserRole string

const (
	RoleStudent   UserRole = "student"
	RoleOrganizer UserRole = "organizer"
	RoleAdmin     UserRole = "admin"
)

var validUserRoles = []UserRole{
	RoleStudent,
	RoleOrganizer,
	RoleAdmin,
}

// IsValid reports whether the value matches a known role.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseUserRole converts raw input into UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
