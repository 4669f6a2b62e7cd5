package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"benefits-portal/internal/ctxkeys"
)

// RequestID assigns a UUID v7 to each request unless the client sent an
// X-Request-ID header. The id is echoed on the response and stored in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxkeys.RequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
