package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/pkg/enums"
)

type contextKey string

const (
	ctxOperatorID  contextKey = "operator_id"
	ctxRole        contextKey = "operator_role"
	ctxTenantScope contextKey = "tenant_scope"
	ctxTenantID    contextKey = "tenant_id"
)

func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperatorID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.OperatorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.OperatorRole); ok {
		return v
	}
	return ""
}

// TenantScopeFromContext returns the tenant a token is restricted to. Nil
// means the token may act on every tenant.
func TenantScopeFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxTenantScope).(uuid.UUID); ok {
		return &v
	}
	return nil
}

// TenantIDFromContext returns the tenant resolved from the request path.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithOperator injects operator identity into the context.
func WithOperator(ctx context.Context, operatorID string, role enums.OperatorRole, scope *uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if scope != nil {
		ctx = context.WithValue(ctx, ctxTenantScope, *scope)
	}
	return ctx
}

// WithTenantID injects the resolved tenant for downstream handlers.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxTenantID, tenantID)
}
