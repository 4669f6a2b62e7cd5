// Package middleware provides HTTP middleware for authentication and authorization.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/ctxkeys"
)

// ReasonPasswordReset is returned while a flagged user has not changed their password.
const ReasonPasswordReset = "password_reset_required"

// Auth validates the JWT token from the Authorization header and
// injects the user's ID, password-reset flag and remember-me flag into the
// request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <token>")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			userID, _ := claims["userId"].(string)
			pwdReset, _ := claims["pwdReset"].(bool)
			rememberMe, _ := claims["rm"].(bool)

			if userID == "" {
				writeError(w, http.StatusUnauthorized, "Invalid token: missing user ID")
				return
			}

			ctx := context.WithValue(r.Context(), ctxkeys.UserID, userID)
			ctx = context.WithValue(ctx, ctxkeys.PasswordReset, pwdReset)
			ctx = context.WithValue(ctx, ctxkeys.RememberMe, rememberMe)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResetChecker reports whether a user has been forced to pick a new password
// since their token was issued.
type ResetChecker interface {
	PasswordResetPending(ctx context.Context, userID string) (bool, error)
}

// ForcePasswordReset blocks every route except the allowed paths while the
// user must pick a new password. The token flag covers logins made while the
// reset was pending; checker covers resets forced on sessions already open.
// A checker failure fails closed. Must be used after Auth.
func ForcePasswordReset(checker ResetChecker, allowed ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(allowed))
	for _, p := range allowed {
		open[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			pending, _ := r.Context().Value(ctxkeys.PasswordReset).(bool)
			if !pending && checker != nil {
				userID := ctxkeys.GetUserID(r.Context())
				var err error
				pending, err = checker.PasswordResetPending(r.Context(), userID)
				if err != nil {
					logrus.WithError(err).WithField("user_id", userID).Warn("Password reset state unavailable")
					writeError(w, http.StatusServiceUnavailable, "Account state unavailable")
					return
				}
			}
			if pending {
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error":   ReasonPasswordReset,
					"message": "You must change your password before continuing.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
