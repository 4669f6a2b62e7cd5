package middleware

import (
	"context"
	"net/http"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/views"
)

// ContextResolver builds the permission context for an authenticated user.
type ContextResolver interface {
	Resolve(ctx context.Context, userID string) authz.ContextResult
}

// Authorizer gates routes on permission expressions.
type Authorizer struct {
	resolver ContextResolver
	filter   *authz.Filter
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(resolver ContextResolver, filter *authz.Filter) *Authorizer {
	return &Authorizer{resolver: resolver, filter: filter}
}

// Require returns middleware that lets the request through only when the
// caller's context satisfies expr (e.g. "view_beneficiaries_company|view_beneficiaries_all").
// On success the PermissionContext is stored for handlers. Must be used after Auth.
func (a *Authorizer) Require(expr string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authz.WithRequestID(r.Context(), ctxkeys.GetRequestID(r.Context()))
			format := authz.NegotiateFormat(r)

			res := authz.Unavailable(nil)
			if userID := ctxkeys.GetUserID(ctx); userID != "" {
				res = a.resolver.Resolve(ctx, userID)
			}

			outcome := a.filter.Authorize(ctx, expr, res, format)
			if !outcome.Allowed {
				WriteOutcome(w, r, outcome)
				return
			}

			pc, _ := res.Context()
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithPermissionContext(r.Context(), pc)))
		})
	}
}

// WriteOutcome renders a denial as a JSON payload or an HTML page,
// depending on the format the caller negotiated.
func WriteOutcome(w http.ResponseWriter, r *http.Request, o authz.Outcome) {
	if o.Format == authz.FormatJSON {
		writeJSON(w, o.Status, map[string]string{
			"error":   o.Reason,
			"message": o.Message,
		})
		return
	}
	views.RenderError(w, views.ErrorPage{
		Status:    o.Status,
		Message:   o.Message,
		RequestID: ctxkeys.GetRequestID(r.Context()),
	})
}
