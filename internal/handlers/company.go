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

// CompanyHandler handles company-related HTTP requests.
type CompanyHandler struct {
	db database.Service
}

// NewCompanyHandler creates a new CompanyHandler with the provided database service.
func NewCompanyHandler(db database.Service) *CompanyHandler {
	return &CompanyHandler{db: db}
}

const companyCols = `id::text, name, code, created_at::text, updated_at::text`

// ── List ───────────────────────────────────────────────────────

// List returns the companies within the caller's scope, ordered alphabetically.
func (h *CompanyHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1
	where, args, _ = appendCompanyScope(r.Context(), where, args, argIdx, "c.id")

	rows, err := pool.Query(ctx, `
		SELECT c.id::text, c.name, c.code, c.created_at::text, c.updated_at::text,
			COUNT(b.id) AS beneficiary_count
		FROM companies c
		LEFT JOIN beneficiaries b ON b.company_id = c.id
		`+where+`
		GROUP BY c.id
		ORDER BY c.name ASC
	`, args...)
	if err != nil {
		logrus.WithError(err).Error("Error fetching companies")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch companies")
		return
	}
	defer rows.Close()

	companies := []models.Company{}
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Code, &c.CreatedAt, &c.UpdatedAt, &c.BeneficiaryCount,
		); err != nil {
			logrus.WithError(err).Warn("Error scanning company")
			continue
		}
		companies = append(companies, c)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"data": companies,
	})
}

// GetByID returns a single company the caller can see.
func (h *CompanyHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !checkCompanyAccess(r.Context(), &id) {
		JSONError(w, http.StatusForbidden, "Access denied to this company")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var c models.Company
	err := h.db.GetPool().QueryRow(ctx, `
		SELECT c.id::text, c.name, c.code, c.created_at::text, c.updated_at::text,
			(SELECT COUNT(*) FROM beneficiaries b WHERE b.company_id = c.id)
		FROM companies c
		WHERE c.id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Code, &c.CreatedAt, &c.UpdatedAt, &c.BeneficiaryCount)
	if err != nil {
		JSONError(w, http.StatusNotFound, "Company not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"data": c})
}

// ── Create ─────────────────────────────────────────────────────

// Create adds a new company. Only globally scoped callers may create one,
// since a scoped caller could never be assigned to it.
func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !ctxkeys.IsGlobalScope(r.Context()) {
		JSONError(w, http.StatusForbidden, "Only global administrators can create companies")
		return
	}

	var req models.CompanyRequest
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

	var company models.Company
	err := pool.QueryRow(ctx, `
		INSERT INTO companies (name, code)
		VALUES ($1, $2)
		RETURNING `+companyCols,
		req.Name, req.Code,
	).Scan(&company.ID, &company.Name, &company.Code, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			JSONError(w, http.StatusConflict, "A company with this name already exists")
			return
		}
		logrus.WithError(err).Error("Error creating company")
		JSONError(w, http.StatusInternalServerError, "Failed to create company")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "created", "company", company.ID, map[string]interface{}{
		"name": company.Name,
	})

	JSON(w, http.StatusCreated, map[string]interface{}{
		"data":    company,
		"message": "Company created successfully",
	})
}

// ── Update ─────────────────────────────────────────────────────

// Update modifies a company's details.
func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !checkCompanyAccess(r.Context(), &id) {
		JSONError(w, http.StatusForbidden, "Access denied to this company")
		return
	}

	var req models.CompanyRequest
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

	var company models.Company
	err := pool.QueryRow(ctx, `
		UPDATE companies SET name = $1, code = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+companyCols,
		req.Name, req.Code, id,
	).Scan(&company.ID, &company.Name, &company.Code, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			JSONError(w, http.StatusConflict, "A company with this name already exists")
			return
		}
		JSONError(w, http.StatusNotFound, "Company not found")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "updated", "company", company.ID, map[string]interface{}{
		"name": company.Name,
	})

	JSON(w, http.StatusOK, map[string]interface{}{
		"data":    company,
		"message": "Company updated successfully",
	})
}

// ── Delete ─────────────────────────────────────────────────────

// Delete removes a company. Its beneficiaries are detached, not deleted.
func (h *CompanyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !checkCompanyAccess(r.Context(), &id) {
		JSONError(w, http.StatusForbidden, "Access denied to this company")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	result, err := pool.Exec(ctx, "DELETE FROM companies WHERE id = $1", id)
	if err != nil {
		logrus.WithError(err).WithField("company_id", id).Error("Error deleting company")
		JSONError(w, http.StatusInternalServerError, "Failed to delete company")
		return
	}

	if result.RowsAffected() == 0 {
		JSONError(w, http.StatusNotFound, "Company not found")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "deleted", "company", id, nil)

	JSON(w, http.StatusOK, map[string]interface{}{
		"message": "Company deleted successfully",
	})
}
