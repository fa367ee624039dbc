package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoleName is a capability tag attached to a user.
type RoleName string

const (
	RoleClient     RoleName = "client"
	RolePublisher  RoleName = "publisher"
	RoleSuperadmin RoleName = "superadmin"
)

// Valid reports whether r is a known role.
func (r RoleName) Valid() bool {
	switch r {
	case RoleClient, RolePublisher, RoleSuperadmin:
		return true
	}
	return false
}

// User is the marketplace account as owned by the identity subsystem.
type User struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"displayName"`
	Phone       string           `json:"phone,omitempty"`
	Roles       []RoleAssignment `json:"roles"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// RoleAssignment records when a role was granted and whether it is in effect.
type RoleAssignment struct {
	RoleName   RoleName  `json:"roleName"`
	AssignedAt time.Time `json:"assignedAt"`
	IsActive   bool      `json:"isActive"`
}

// ActiveRoles returns the names of the roles currently in effect.
func ActiveRoles(assignments []RoleAssignment) []RoleName {
	roles := make([]RoleName, 0, len(assignments))
	for _, a := range assignments {
		if a.IsActive {
			roles = append(roles, a.RoleName)
		}
	}
	return roles
}

// HasRole reports whether roles contains name.
func HasRole(roles []RoleName, name RoleName) bool {
	for _, r := range roles {
		if r == name {
			return true
		}
	}
	return false
}

// JWTClaims holds the identity extracted from a verified bearer token.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SetRolesRequest is the input for a manual role edit.
type SetRolesRequest struct {
	Roles []RoleName `json:"roles" validate:"required,dive,oneof=client publisher superadmin"`
}

// NewID returns a random identifier for a new entity.
func NewID() string {
	return uuid.New().String()
}
