package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/models"
)

// RoleHandler lists roles and edits their permission sets.
type RoleHandler struct {
	db          database.Service
	invalidator Invalidator
}

func NewRoleHandler(db database.Service, inv Invalidator) *RoleHandler {
	return &RoleHandler{db: db, invalidator: inv}
}

// List returns every role with its permissions as stored, not as cached.
// Global scope only.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	if !ctxkeys.IsGlobalScope(r.Context()) {
		JSONError(w, http.StatusForbidden, "Only global administrators can manage roles")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := h.db.GetPool().Query(ctx, `
		SELECT r.name, r.description, r.is_global,
			COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_name = r.name
		GROUP BY r.name
		ORDER BY r.is_global DESC, r.name
	`)
	if err != nil {
		logrus.WithError(err).Error("Failed to list roles")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch roles")
		return
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.Name, &role.Description, &role.Global, &role.Permissions); err != nil {
			logrus.WithError(err).Warn("Failed to scan role")
			continue
		}
		roles = append(roles, role)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"data": roles})
}

// UpdatePermissions replaces a role's permission set and tells every
// instance to reload the role catalog. Global scope only.
func (h *RoleHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	if !ctxkeys.IsGlobalScope(r.Context()) {
		JSONError(w, http.StatusForbidden, "Only global administrators can manage roles")
		return
	}

	name := chi.URLParam(r, "name")

	var req models.UpdatePermissionsRequest
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

	tx, err := pool.Begin(ctx)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update role")
		return
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists); err != nil || !exists {
		JSONError(w, http.StatusNotFound, "Role not found")
		return
	}

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1`, name); err != nil {
		logrus.WithError(err).WithField("role", name).Error("Failed to clear role permissions")
		JSONError(w, http.StatusInternalServerError, "Failed to update role")
		return
	}
	for _, p := range req.Permissions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_name, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			name, p,
		); err != nil {
			logrus.WithError(err).WithField("role", name).Error("Failed to add role permission")
			JSONError(w, http.StatusInternalServerError, "Failed to update role")
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to update role")
		return
	}

	h.invalidator.CatalogChanged(ctx)

	go logActivity(pool, ctxkeys.GetUserID(r.Context()), "updated_permissions", "role", name, map[string]interface{}{
		"permissions": req.Permissions,
	})

	JSON(w, http.StatusOK, map[string]interface{}{
		"data":    map[string]interface{}{"name": name, "permissions": req.Permissions},
		"message": "Role permissions updated",
	})
}
