package auth

import (
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting an operator JWT.
type AccessTokenPayload struct {
	OperatorID uuid.UUID
	Role       enums.OperatorRole
	// TenantID scopes a token to a single tenant. Nil means every tenant.
	TenantID *uuid.UUID
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to operators and internal services.
type AccessTokenClaims struct {
	OperatorID uuid.UUID          `json:"operator_id"`
	Role       enums.OperatorRole `json:"role"`
	TenantID   *uuid.UUID         `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessTenant reports whether the token may act on tenantID.
func (c *AccessTokenClaims) CanAccessTenant(tenantID uuid.UUID) bool {
	if c == nil {
		return false
	}
	return c.TenantID == nil || *c.TenantID == tenantID
}
