// Package ctxkeys defines typed context keys shared between middleware and handlers.
// Both middleware and handlers import this package, but neither imports the
// other for context key types.
package ctxkeys

import (
	"context"

	"benefits-portal/internal/authz"
)

// Key is a typed string used as context key to prevent collisions.
type Key string

const (
	UserID            Key = "userID"
	PasswordReset     Key = "passwordReset"
	RememberMe        Key = "rememberMe"
	PermissionContext Key = "permissionContext"
	RequestID         Key = "requestID"
)

// GetUserID returns the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserID).(string)
	return id
}

// GetRememberMe reports whether the session was opened with remember-me.
func GetRememberMe(ctx context.Context) bool {
	rm, _ := ctx.Value(RememberMe).(bool)
	return rm
}

// WithPermissionContext stores the request's resolved authorization snapshot.
func WithPermissionContext(ctx context.Context, pc *authz.PermissionContext) context.Context {
	return context.WithValue(ctx, PermissionContext, pc)
}

// GetPermissionContext returns the snapshot stored by the authorization
// middleware, or nil when the route was not gated.
func GetPermissionContext(ctx context.Context) *authz.PermissionContext {
	pc, _ := ctx.Value(PermissionContext).(*authz.PermissionContext)
	return pc
}

// GetCompanyScope returns the company IDs the current user may access.
// Returns nil for global scope (meaning "all companies"). A request with no
// permission context gets an empty, non-nil slice so it matches nothing.
func GetCompanyScope(ctx context.Context) []string {
	pc := GetPermissionContext(ctx)
	if pc == nil {
		return []string{}
	}
	ids, scoped := pc.CompanyIDs()
	if !scoped {
		return nil
	}
	return ids
}

// IsGlobalScope returns true if the user has access to all companies.
func IsGlobalScope(ctx context.Context) bool {
	pc := GetPermissionContext(ctx)
	return pc != nil && pc.IsGlobalScope()
}

// GetRequestID returns the request id assigned by the RequestID middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestID).(string)
	return id
}
