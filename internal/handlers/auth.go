package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/models"
)

const (
	sessionTTL    = 24 * time.Hour
	rememberMeTTL = 30 * 24 * time.Hour
	bcryptCost    = 12
	defaultRole   = "viewer"
)

// ContextResolver builds the permission context for a user.
type ContextResolver interface {
	Resolve(ctx context.Context, userID string) authz.ContextResult
}

// Invalidator propagates authorization changes to every instance.
type Invalidator interface {
	UserChanged(ctx context.Context, userID string)
	CatalogChanged(ctx context.Context)
}

// AuthHandler manages user registration, login, and profile retrieval.
type AuthHandler struct {
	db          database.Service
	jwtSecret   []byte
	resolver    ContextResolver
	invalidator Invalidator
	now         func() time.Time
}

// NewAuthHandler creates an AuthHandler with the given database and JWT signing key.
func NewAuthHandler(db database.Service, jwtSecret string, resolver ContextResolver, inv Invalidator) *AuthHandler {
	return &AuthHandler{
		db:          db,
		jwtSecret:   []byte(jwtSecret),
		resolver:    resolver,
		invalidator: inv,
		now:         time.Now,
	}
}

// Register creates a new user account with the viewer role and no companies.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if errs := req.Validate(); len(errs) > 0 {
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": errs,
		})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		logrus.WithError(err).Error("Failed to hash password")
		JSONError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	tx, err := pool.Begin(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to start registration")
		JSONError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}
	defer tx.Rollback(ctx)

	var user models.User
	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, must_reset_password, created_at::text, updated_at::text
	`, req.Email, string(hashedPassword), req.Name,
	).Scan(
		&user.ID, &user.Email, &user.Name,
		&user.MustResetPassword, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			JSONError(w, http.StatusConflict, "An account with this email already exists")
			return
		}
		logrus.WithError(err).Error("Failed to create user")
		JSONError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)`, user.ID, defaultRole); err != nil {
		logrus.WithError(err).Error("Failed to assign default role")
		JSONError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		logrus.WithError(err).Error("Failed to commit registration")
		JSONError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}
	user.Roles = []string{defaultRole}

	token, err := h.generateToken(user.ID, false, false)
	if err != nil {
		logrus.WithError(err).Error("Failed to generate token")
		JSONError(w, http.StatusInternalServerError, "Account created but login failed")
		return
	}

	go logActivity(pool, user.ID, "registered", "user", user.ID, nil)

	JSON(w, http.StatusCreated, models.AuthResponse{
		Token: token,
		User:  user,
	})
}

// Login authenticates a user with email + password and returns a JWT token.
// rememberMe extends the token lifetime from one day to thirty.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": errs,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var user models.User
	err := pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.password_hash, u.name, u.must_reset_password,
			COALESCE(array_agg(ur.role_name ORDER BY ur.role_name) FILTER (WHERE ur.role_name IS NOT NULL), '{}'),
			u.created_at::text, u.updated_at::text
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.email = $1
		GROUP BY u.id
	`, strings.ToLower(strings.TrimSpace(req.Email)),
	).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.MustResetPassword, &user.Roles, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		// Generic message to prevent email enumeration attacks
		JSONError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		JSONError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := h.generateToken(user.ID, user.MustResetPassword, req.RememberMe)
	if err != nil {
		logrus.WithError(err).Error("Failed to generate token")
		JSONError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	go logActivity(pool, user.ID, "logged_in", "user", user.ID, map[string]interface{}{
		"rememberMe": req.RememberMe,
	})

	JSON(w, http.StatusOK, models.AuthResponse{
		Token: token,
		User:  user,
	})
}

// meResponse is the profile plus the caller's effective access.
type meResponse struct {
	models.User
	Permissions []string `json:"permissions"`
	GlobalScope bool     `json:"globalScope"`
	CompanyIDs  []string `json:"companyIds"`
}

// GetMe returns the profile of the currently authenticated user along with
// the permissions and companies their roles currently grant.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := ctxkeys.GetUserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var user models.User
	err := h.db.GetPool().QueryRow(ctx, `
		SELECT id, email, name, must_reset_password, created_at::text, updated_at::text
		FROM users WHERE id = $1
	`, userID,
	).Scan(
		&user.ID, &user.Email, &user.Name,
		&user.MustResetPassword, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		JSONError(w, http.StatusNotFound, "User not found")
		return
	}

	resp := meResponse{User: user, Permissions: []string{}, CompanyIDs: []string{}}
	resp.Roles = []string{}

	pc, err := h.resolver.Resolve(ctx, userID).Context()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Permission context unavailable for profile")
		JSON(w, http.StatusOK, resp)
		return
	}
	resp.Roles = pc.Roles()
	resp.Permissions = pc.Permissions()
	if ids, scoped := pc.CompanyIDs(); scoped {
		resp.CompanyIDs = ids
	} else {
		resp.GlobalScope = true
	}

	JSON(w, http.StatusOK, resp)
}

// ChangePassword replaces the caller's password and clears any pending
// forced reset. The response carries a fresh token without the reset flag
// and with the same lifetime as the session it replaces.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := ctxkeys.GetUserID(r.Context())

	var req models.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": errs,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var hash string
	if err := pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash); err != nil {
		JSONError(w, http.StatusNotFound, "User not found")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)); err != nil {
		JSONError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
	if err != nil {
		logrus.WithError(err).Error("Failed to hash password")
		JSONError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	if _, err := pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, must_reset_password = FALSE, updated_at = NOW()
		WHERE id = $2
	`, string(newHash), userID); err != nil {
		logrus.WithError(err).Error("Failed to update password")
		JSONError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	h.invalidator.UserChanged(ctx, userID)

	token, err := h.generateToken(userID, false, ctxkeys.GetRememberMe(r.Context()))
	if err != nil {
		logrus.WithError(err).Error("Failed to generate token")
		JSONError(w, http.StatusInternalServerError, "Password changed but login failed")
		return
	}

	go logActivity(pool, userID, "changed_password", "user", userID, nil)

	JSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"message": "Password changed successfully",
	})
}

// generateToken creates a signed JWT carrying the user ID and, when set, the
// forced password-reset and remember-me flags.
func (h *AuthHandler) generateToken(userID string, pwdReset, rememberMe bool) (string, error) {
	ttl := sessionTTL
	if rememberMe {
		ttl = rememberMeTTL
	}
	now := h.now()
	claims := jwt.MapClaims{
		"userId": userID,
		"exp":    now.Add(ttl).Unix(),
		"iat":    now.Unix(),
	}
	if pwdReset {
		claims["pwdReset"] = true
	}
	if rememberMe {
		claims["rm"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
