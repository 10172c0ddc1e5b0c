package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in StudioClaims.
const (
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleCoach       = "coach"
	RoleClient      = "client"
)

// StudioClaims represents custom JWT claims issued to studio staff and clients
type StudioClaims struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
	TenantID string   `json:"tenant_id"`
	jwt.RegisteredClaims
}
