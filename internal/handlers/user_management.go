package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/models"
)

// CatalogSource exposes the current role catalog.
type CatalogSource interface {
	Snapshot() (*authz.CatalogSnapshot, error)
}

// UserManagementHandler provides user listing, role and company assignment,
// and deletion. Callers confined to companies can only manage users who hold
// no global role, belong to at least one company, and whose companies all
// fall inside the caller's scope. Unassigned users need a global administrator.
type UserManagementHandler struct {
	db          database.Service
	catalog     CatalogSource
	invalidator Invalidator
}

func NewUserManagementHandler(db database.Service, catalog CatalogSource, inv Invalidator) *UserManagementHandler {
	return &UserManagementHandler{db: db, catalog: catalog, invalidator: inv}
}

// ── Scope ──────────────────────────────────────────────────────

// manageable reports whether the caller may modify targetID. It writes the
// error response itself when the answer is no.
func manageable(ctx context.Context, w http.ResponseWriter, pool database.Pool, targetID string) bool {
	var exists, global bool
	var companies []string
	err := pool.QueryRow(ctx, `
		SELECT TRUE,
			EXISTS (
				SELECT 1 FROM user_roles ur JOIN roles ro ON ro.name = ur.role_name
				WHERE ur.user_id = u.id AND ro.is_global
			),
			COALESCE((SELECT array_agg(uc.company_id::text) FROM user_companies uc WHERE uc.user_id = u.id), '{}')
		FROM users u WHERE u.id = $1
	`, targetID).Scan(&exists, &global, &companies)
	if err != nil || !exists {
		JSONError(w, http.StatusNotFound, "User not found")
		return false
	}

	if ctxkeys.IsGlobalScope(ctx) {
		return true
	}
	if global {
		JSONError(w, http.StatusForbidden, "Cannot modify users with global roles")
		return false
	}
	if len(companies) == 0 {
		JSONError(w, http.StatusForbidden, "User is not assigned to any company in your scope")
		return false
	}
	pc := ctxkeys.GetPermissionContext(ctx)
	for _, id := range companies {
		if !authz.InScope(pc, id) {
			JSONError(w, http.StatusForbidden, "User belongs to a company outside your scope")
			return false
		}
	}
	return true
}

// ── List ───────────────────────────────────────────────────────

// List returns the users visible to the caller with their roles.
func (h *UserManagementHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	query := `
		SELECT u.id, u.email, u.name, u.must_reset_password,
			COALESCE(array_agg(ur.role_name ORDER BY ur.role_name) FILTER (WHERE ur.role_name IS NOT NULL), '{}'),
			u.created_at::text, u.updated_at::text
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
	`
	args := []interface{}{}
	if scope := ctxkeys.GetCompanyScope(r.Context()); scope != nil {
		query += `
		WHERE NOT EXISTS (
			SELECT 1 FROM user_roles gr JOIN roles ro ON ro.name = gr.role_name
			WHERE gr.user_id = u.id AND ro.is_global
		)
		AND EXISTS (
			SELECT 1 FROM user_companies mc WHERE mc.user_id = u.id
		)
		AND NOT EXISTS (
			SELECT 1 FROM user_companies uc
			WHERE uc.user_id = u.id AND NOT (uc.company_id::text = ANY($1))
		)`
		args = append(args, scope)
	}
	query += ` GROUP BY u.id ORDER BY u.created_at DESC`

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		logrus.WithError(err).Error("Failed to list users")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.MustResetPassword, &u.Roles, &u.CreatedAt, &u.UpdatedAt); err != nil {
			logrus.WithError(err).Warn("Failed to scan user row")
			continue
		}
		users = append(users, u)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"data": users})
}

// ── Roles ──────────────────────────────────────────────────────

// UpdateRoles replaces a user's role set. Only globally scoped callers may
// hand out global roles.
func (h *UserManagementHandler) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	currentUserID := ctxkeys.GetUserID(r.Context())

	if targetID == currentUserID {
		JSONError(w, http.StatusBadRequest, "Cannot change your own roles")
		return
	}

	var req models.UpdateRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	snap, err := h.catalog.Snapshot()
	if err != nil {
		logrus.WithError(err).Error("Role catalog unavailable")
		JSONError(w, http.StatusServiceUnavailable, "Role catalog unavailable")
		return
	}
	known := func(name string) bool {
		_, ok := snap.Role(name)
		return ok
	}
	if errs := req.Validate(known); len(errs) > 0 {
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": errs,
		})
		return
	}
	if !ctxkeys.IsGlobalScope(r.Context()) {
		for _, name := range req.Roles {
			if def, _ := snap.Role(name); def.Global {
				JSONError(w, http.StatusForbidden, "Only global administrators can assign global roles")
				return
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	if !manageable(ctx, w, pool, targetID) {
		return
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update roles")
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, targetID); err != nil {
		logrus.WithError(err).Error("Failed to clear user roles")
		JSONError(w, http.StatusInternalServerError, "Failed to update roles")
		return
	}
	for _, name := range req.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			targetID, name,
		); err != nil {
			logrus.WithError(err).WithField("role", name).Error("Failed to assign role")
			JSONError(w, http.StatusInternalServerError, "Failed to update roles")
			return
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, targetID); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update roles")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update roles")
		return
	}

	h.invalidator.UserChanged(ctx, targetID)

	go logActivity(pool, currentUserID, "updated_roles", "user", targetID, map[string]interface{}{
		"roles": req.Roles,
	})

	JSON(w, http.StatusOK, map[string]interface{}{
		"data":    map[string]interface{}{"id": targetID, "roles": req.Roles},
		"message": "Roles updated successfully",
	})
}

// ForcePasswordReset flags the user so they must change password before
// anything else. Sessions already open are blocked on their next request.
func (h *UserManagementHandler) ForcePasswordReset(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	if !manageable(ctx, w, pool, targetID) {
		return
	}

	if _, err := pool.Exec(ctx,
		`UPDATE users SET must_reset_password = TRUE, updated_at = NOW() WHERE id = $1`, targetID,
	); err != nil {
		logrus.WithError(err).Error("Failed to flag password reset")
		JSONError(w, http.StatusInternalServerError, "Failed to require password reset")
		return
	}

	h.invalidator.UserChanged(ctx, targetID)

	go logActivity(pool, ctxkeys.GetUserID(r.Context()), "forced_password_reset", "user", targetID, nil)

	JSON(w, http.StatusOK, map[string]interface{}{"message": "User must reset password before continuing"})
}

// Delete removes a user.
func (h *UserManagementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	currentUserID := ctxkeys.GetUserID(r.Context())

	if targetID == currentUserID {
		JSONError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	if !manageable(ctx, w, pool, targetID) {
		return
	}

	var email string
	err := pool.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING email`, targetID).Scan(&email)
	if err != nil {
		JSONError(w, http.StatusNotFound, "User not found")
		return
	}

	h.invalidator.UserChanged(ctx, targetID)

	go logActivity(pool, currentUserID, "deleted", "user", targetID, map[string]interface{}{
		"email": email,
	})

	JSON(w, http.StatusOK, map[string]interface{}{"message": "User deleted successfully"})
}

// ── Company Assignment ─────────────────────────────────────────

// GetUserCompanies returns the companies assigned to a user. Scoped callers
// only see assignments inside their own scope.
func (h *UserManagementHandler) GetUserCompanies(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	where := "WHERE uc.user_id = $1"
	args := []interface{}{userID}
	where, args, _ = appendCompanyScope(r.Context(), where, args, 2, "uc.company_id")

	rows, err := pool.Query(ctx, `
		SELECT uc.company_id::text, c.name
		FROM user_companies uc
		JOIN companies c ON c.id = uc.company_id
		`+where+`
		ORDER BY c.name ASC
	`, args...)
	if err != nil {
		logrus.WithError(err).Error("Failed to get user companies")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch company assignments")
		return
	}
	defer rows.Close()

	type Assignment struct {
		CompanyID   string `json:"companyId"`
		CompanyName string `json:"companyName"`
	}
	assignments := []Assignment{}
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.CompanyID, &a.CompanyName); err != nil {
			continue
		}
		assignments = append(assignments, a)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"data": assignments})
}

// SetUserCompanies replaces all company assignments for a user. Every
// company must be inside the caller's scope.
func (h *UserManagementHandler) SetUserCompanies(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req models.SetCompaniesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	for _, id := range req.CompanyIDs {
		id := id
		if !checkCompanyAccess(r.Context(), &id) {
			JSONError(w, http.StatusForbidden, "Access denied to company "+id)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	if !manageable(ctx, w, pool, userID) {
		return
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update assignments")
		return
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, `DELETE FROM user_companies WHERE user_id = $1`, userID); err != nil {
		logrus.WithError(err).Error("Failed to clear user companies")
		JSONError(w, http.StatusInternalServerError, "Failed to update assignments")
		return
	}

	for _, companyID := range req.CompanyIDs {
		if _, err = tx.Exec(ctx,
			`INSERT INTO user_companies (user_id, company_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, companyID,
		); err != nil {
			logrus.WithError(err).WithField("company_id", companyID).Error("Failed to assign company")
			JSONError(w, http.StatusUnprocessableEntity, "Unknown company "+companyID)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update assignments")
		return
	}

	h.invalidator.UserChanged(ctx, userID)

	go logActivity(pool, ctxkeys.GetUserID(r.Context()), "assigned_companies", "user", userID, map[string]interface{}{
		"companyIds": req.CompanyIDs,
	})

	JSON(w, http.StatusOK, map[string]interface{}{
		"message": "Company assignments updated",
	})
}
