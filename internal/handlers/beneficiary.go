package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/directory"
	"benefits-portal/internal/models"
)

// BeneficiaryHandler handles beneficiary-related HTTP requests.
type BeneficiaryHandler struct {
	db database.Service
}

// NewBeneficiaryHandler creates a new BeneficiaryHandler.
func NewBeneficiaryHandler(db database.Service) *BeneficiaryHandler {
	return &BeneficiaryHandler{db: db}
}

// ── Columns ────────────────────────────────────────────────────

const beneficiaryRetCols = `id, company_id::text, member_number, first_name, last_name,
	national_id, date_of_birth::text, email, phone, status,
	created_at, updated_at`

// ── Scan Helpers ───────────────────────────────────────────────

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBeneficiary(row scanner, b *models.Beneficiary) error {
	return row.Scan(
		&b.ID, &b.CompanyID, &b.MemberNumber, &b.FirstName, &b.LastName,
		&b.NationalID, &b.DateOfBirth, &b.Email, &b.Phone, &b.Status,
		&b.CreatedAt, &b.UpdatedAt,
	)
}

func scanBeneficiaryWithCompany(row scanner, b *models.BeneficiaryWithCompany) error {
	return row.Scan(
		&b.ID, &b.CompanyID, &b.MemberNumber, &b.FirstName, &b.LastName,
		&b.NationalID, &b.DateOfBirth, &b.Email, &b.Phone, &b.Status,
		&b.CreatedAt, &b.UpdatedAt, &b.CompanyName,
	)
}

// ── List ───────────────────────────────────────────────────────

// List handles GET /api/beneficiaries
// Supports search, company_id, status, page, limit, sort_by and sort_order.
func (h *BeneficiaryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := directory.FromValues(r.URL.Query().Get).Normalize()
	countStmt, pageStmt := directory.Build(q, scopeOf(r.Context()))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var total int
	if err := pool.QueryRow(ctx, countStmt.SQL, countStmt.Args...).Scan(&total); err != nil {
		logrus.WithError(err).Error("Error counting beneficiaries")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch beneficiaries")
		return
	}

	rows, err := pool.Query(ctx, pageStmt.SQL, pageStmt.Args...)
	if err != nil {
		logrus.WithError(err).Error("Error querying beneficiaries")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch beneficiaries")
		return
	}
	defer rows.Close()

	beneficiaries := []models.BeneficiaryWithCompany{}
	for rows.Next() {
		var b models.BeneficiaryWithCompany
		if err := scanBeneficiaryWithCompany(rows, &b); err != nil {
			logrus.WithError(err).Warn("Error scanning beneficiary")
			continue
		}
		beneficiaries = append(beneficiaries, b)
	}

	JSON(w, http.StatusOK, PaginatedResponse{
		Data: beneficiaries,
		Pagination: PaginationMeta{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: q.TotalPages(total),
		},
	})
}

// ── GetByID ────────────────────────────────────────────────────

// GetByID handles GET /api/beneficiaries/{id}
// Returns the beneficiary with their company name and dependents.
func (h *BeneficiaryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		JSONError(w, http.StatusBadRequest, "Beneficiary ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var b models.BeneficiaryWithCompany
	err := scanBeneficiaryWithCompany(pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s
		FROM beneficiaries b
		LEFT JOIN companies c ON c.id = b.company_id
		WHERE b.id = $1
	`, directory.Columns), id), &b)
	if err != nil {
		JSONError(w, http.StatusNotFound, "Beneficiary not found")
		return
	}

	if !checkCompanyAccess(r.Context(), b.CompanyID) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	dependents, err := listDependents(ctx, h.db, id)
	if err != nil {
		logrus.WithError(err).WithField("beneficiary_id", id).Error("Error fetching dependents")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch beneficiary")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"beneficiary": b,
			"dependents":  dependents,
		},
	})
}

// ── Create ─────────────────────────────────────────────────────

// Create handles POST /api/beneficiaries
func (h *BeneficiaryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBeneficiaryRequest
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
	if req.Status == "" {
		req.Status = "active"
	}

	if !checkCompanyAccess(r.Context(), &req.CompanyID) {
		JSONError(w, http.StatusForbidden, "Access denied to this company")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var b models.Beneficiary
	err := scanBeneficiary(pool.QueryRow(ctx, `
		INSERT INTO beneficiaries (
			company_id, member_number, first_name, last_name,
			national_id, date_of_birth, email, phone, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+beneficiaryRetCols,
		req.CompanyID, strings.TrimSpace(req.MemberNumber), req.FirstName, req.LastName,
		req.NationalID, req.DateOfBirth, req.Email, req.Phone, req.Status,
	), &b)
	if err != nil {
		if isDuplicateKeyError(err) {
			JSONError(w, http.StatusConflict, "A beneficiary with this member number already exists")
			return
		}
		logrus.WithError(err).Error("Error creating beneficiary")
		JSONError(w, http.StatusInternalServerError, "Failed to create beneficiary")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "created", "beneficiary", b.ID, map[string]interface{}{
		"memberNumber": b.MemberNumber, "companyId": b.CompanyID,
	})

	JSON(w, http.StatusCreated, map[string]interface{}{
		"data":    b,
		"message": "Beneficiary created successfully",
	})
}

// ── Update ─────────────────────────────────────────────────────

// Update handles PUT /api/beneficiaries/{id}
// Moving a beneficiary to another company requires scope over both companies.
func (h *BeneficiaryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		JSONError(w, http.StatusBadRequest, "Beneficiary ID is required")
		return
	}

	if !checkBeneficiaryAccess(r.Context(), h.db.GetPool(), id) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	var req models.UpdateBeneficiaryRequest
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
	if req.CompanyID != nil && !checkCompanyAccess(r.Context(), req.CompanyID) {
		JSONError(w, http.StatusForbidden, "Access denied to the target company")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	// Build dynamic SET clause: only update provided fields
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	addField := func(col string, val interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}

	if req.CompanyID != nil {
		addField("company_id", *req.CompanyID)
	}
	if req.MemberNumber != nil {
		addField("member_number", strings.TrimSpace(*req.MemberNumber))
	}
	if req.FirstName != nil {
		addField("first_name", *req.FirstName)
	}
	if req.LastName != nil {
		addField("last_name", *req.LastName)
	}
	if req.NationalID != nil {
		addField("national_id", nilIfEmpty(*req.NationalID))
	}
	if req.DateOfBirth != nil {
		addField("date_of_birth", *req.DateOfBirth)
	}
	if req.Email != nil {
		addField("email", nilIfEmpty(*req.Email))
	}
	if req.Phone != nil {
		addField("phone", nilIfEmpty(*req.Phone))
	}
	if req.Status != nil {
		addField("status", *req.Status)
	}

	if len(setClauses) == 0 {
		JSONError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE beneficiaries SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, beneficiaryRetCols)
	args = append(args, id)

	var b models.Beneficiary
	if err := scanBeneficiary(pool.QueryRow(ctx, query, args...), &b); err != nil {
		if isDuplicateKeyError(err) {
			JSONError(w, http.StatusConflict, "A beneficiary with this member number already exists")
			return
		}
		logrus.WithError(err).WithField("beneficiary_id", id).Error("Error updating beneficiary")
		JSONError(w, http.StatusNotFound, "Beneficiary not found")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "updated", "beneficiary", b.ID, map[string]interface{}{
		"memberNumber": b.MemberNumber,
	})

	JSON(w, http.StatusOK, map[string]interface{}{
		"data":    b,
		"message": "Beneficiary updated successfully",
	})
}

// ── Delete ─────────────────────────────────────────────────────

// Delete handles DELETE /api/beneficiaries/{id}
func (h *BeneficiaryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		JSONError(w, http.StatusBadRequest, "Beneficiary ID is required")
		return
	}

	if !checkBeneficiaryAccess(r.Context(), h.db.GetPool(), id) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	tag, err := pool.Exec(ctx, "DELETE FROM beneficiaries WHERE id = $1", id)
	if err != nil {
		logrus.WithError(err).WithField("beneficiary_id", id).Error("Error deleting beneficiary")
		JSONError(w, http.StatusInternalServerError, "Failed to delete beneficiary")
		return
	}
	if tag.RowsAffected() == 0 {
		JSONError(w, http.StatusNotFound, "Beneficiary not found")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "deleted", "beneficiary", id, nil)

	JSON(w, http.StatusOK, map[string]string{
		"message": "Beneficiary deleted successfully",
	})
}

// ── Export ──────────────────────────────────────────────────────

var exportHeader = []string{
	"Member Number", "First Name", "Last Name", "National ID", "Date of Birth",
	"Email", "Phone", "Status", "Company",
}

// Export handles GET /api/beneficiaries/export and returns CSV of every
// beneficiary matching the directory filters within the caller's scope.
func (h *BeneficiaryHandler) Export(w http.ResponseWriter, r *http.Request) {
	stmt := directory.BuildExport(directory.FromValues(r.URL.Query().Get), scopeOf(r.Context()))

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	rows, err := pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		logrus.WithError(err).Error("Error exporting beneficiaries")
		JSONError(w, http.StatusInternalServerError, "Failed to export")
		return
	}
	defer rows.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=beneficiaries.csv")

	out := csv.NewWriter(w)
	out.Write(exportHeader)

	count := 0
	for rows.Next() {
		var b models.BeneficiaryWithCompany
		if err := scanBeneficiaryWithCompany(rows, &b); err != nil {
			continue
		}
		out.Write([]string{
			b.MemberNumber, b.FirstName, b.LastName,
			deref(b.NationalID), deref(b.DateOfBirth), deref(b.Email), deref(b.Phone),
			b.Status, b.CompanyName,
		})
		count++
	}
	out.Flush()
	if err := out.Error(); err != nil {
		logrus.WithError(err).Warn("Error writing beneficiary export")
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "exported", "beneficiary", "", map[string]interface{}{
		"rows": count,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
