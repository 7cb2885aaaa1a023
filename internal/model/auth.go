package model

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller as asserted by the identity service
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (p Principal) IsPatient() bool  { return p.Role == RolePatient }
func (p Principal) IsProvider() bool { return p.Role == RoleProvider }
func (p Principal) IsAdmin() bool    { return p.Role == RoleAdmin }

// TokenClaims represents JWT claims issued by the identity service.
// The subject carries the user id.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}
