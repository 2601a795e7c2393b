package models

import (
	"fmt"
	"slices"
	"time"
)

// Role is the visibility level of a user
type Role string

const (
	RoleSuperAdmin         Role = "SUPER_ADMIN"
	RolePoolCoordinator    Role = "POOL_COORDINATOR"
	RoleCountryCoordinator Role = "COUNTRY_COORDINATOR"
	RoleUser               Role = "USER"
)

// SystemActor stamps history entries recorded without an authenticated user
const SystemActor = "System/Offline"

// User represents an authenticated field user or coordinator
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email,omitempty"`
	Role              Role       `json:"role"`
	AssignedCountries []string   `json:"assignedCountries,omitempty"`
	AssignedCountry   string     `json:"assignedCountry,omitempty"`
	AssignedBase      string     `json:"assignedBase,omitempty"`
	APIKey            string     `json:"-"` // Never serialize
	CreatedAt         time.Time  `json:"createdAt"`
	LastSeenAt        *time.Time `json:"lastSeenAt,omitempty"`
}

// DisplayName returns "Name (Role)" as stamped in history entries
func (u *User) DisplayName() string {
	if u == nil {
		return SystemActor
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.Role)
}

// Countries returns the assigned countries, falling back to the single assigned country
func (u *User) Countries() []string {
	if u == nil {
		return nil
	}
	if len(u.AssignedCountries) > 0 {
		return u.AssignedCountries
	}
	if u.AssignedCountry != "" {
		return []string{u.AssignedCountry}
	}
	return nil
}

// IsCoordinator returns true for country-scoped roles
func (u *User) IsCoordinator() bool {
	return u != nil && (u.Role == RolePoolCoordinator || u.Role == RoleCountryCoordinator)
}

// CanAccess reports whether the user may see an assessment of the given context.
// A nil user is the offline single-user agent and sees everything.
func (u *User) CanAccess(ctx AssessmentContext) bool {
	if u == nil {
		return true
	}
	switch u.Role {
	case RoleSuperAdmin:
		return true
	case RolePoolCoordinator, RoleCountryCoordinator:
		return slices.Contains(u.Countries(), ctx.Country)
	default:
		return ctx.Country == u.AssignedCountry && ctx.Base == u.AssignedBase
	}
}

// MaskedAPIKey returns first 8 characters of API key for logging
func (u *User) MaskedAPIKey() string {
	if len(u.APIKey) < 8 {
		return "***"
	}
	return u.APIKey[:8] + "..."
}

// IdentityProvider supplies the current user; nil means unauthenticated
type IdentityProvider interface {
	CurrentUser() *User
}

// StaticIdentity is an IdentityProvider returning a fixed user
type StaticIdentity struct {
	User *User
}

// CurrentUser implements IdentityProvider
func (s StaticIdentity) CurrentUser() *User {
	return s.User
}
