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

// DependentHandler manages the dependents covered through a beneficiary.
type DependentHandler struct {
	db database.Service
}

// NewDependentHandler creates a new DependentHandler.
func NewDependentHandler(db database.Service) *DependentHandler {
	return &DependentHandler{db: db}
}

func listDependents(ctx context.Context, db database.Service, beneficiaryID string) ([]models.Dependent, error) {
	rows, err := db.GetPool().Query(ctx, `
		SELECT id, beneficiary_id, first_name, last_name, relationship,
			date_of_birth::text, created_at
		FROM dependents
		WHERE beneficiary_id = $1
		ORDER BY created_at
	`, beneficiaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dependents := []models.Dependent{}
	for rows.Next() {
		var d models.Dependent
		if err := rows.Scan(
			&d.ID, &d.BeneficiaryID, &d.FirstName, &d.LastName, &d.Relationship,
			&d.DateOfBirth, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		dependents = append(dependents, d)
	}
	return dependents, rows.Err()
}

// List handles GET /api/beneficiaries/{id}/dependents
func (h *DependentHandler) List(w http.ResponseWriter, r *http.Request) {
	beneficiaryID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !checkBeneficiaryAccess(ctx, h.db.GetPool(), beneficiaryID) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	dependents, err := listDependents(ctx, h.db, beneficiaryID)
	if err != nil {
		logrus.WithError(err).WithField("beneficiary_id", beneficiaryID).Error("Error fetching dependents")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch dependents")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"data": dependents})
}

// Create handles POST /api/beneficiaries/{id}/dependents
func (h *DependentHandler) Create(w http.ResponseWriter, r *http.Request) {
	beneficiaryID := chi.URLParam(r, "id")

	var req models.CreateDependentRequest
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

	if !checkBeneficiaryAccess(ctx, pool, beneficiaryID) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	var d models.Dependent
	err := pool.QueryRow(ctx, `
		INSERT INTO dependents (beneficiary_id, first_name, last_name, relationship, date_of_birth)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, beneficiary_id, first_name, last_name, relationship,
			date_of_birth::text, created_at
	`, beneficiaryID, req.FirstName, req.LastName, req.Relationship, req.DateOfBirth,
	).Scan(
		&d.ID, &d.BeneficiaryID, &d.FirstName, &d.LastName, &d.Relationship,
		&d.DateOfBirth, &d.CreatedAt,
	)
	if err != nil {
		logrus.WithError(err).WithField("beneficiary_id", beneficiaryID).Error("Error creating dependent")
		JSONError(w, http.StatusInternalServerError, "Failed to create dependent")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "created", "dependent", d.ID, map[string]interface{}{
		"beneficiaryId": beneficiaryID, "relationship": d.Relationship,
	})

	JSON(w, http.StatusCreated, map[string]interface{}{
		"data":    d,
		"message": "Dependent added successfully",
	})
}

// Delete handles DELETE /api/dependents/{id}
func (h *DependentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	if !checkDependentAccess(ctx, pool, id) {
		JSONError(w, http.StatusForbidden, "Access denied to this dependent")
		return
	}

	tag, err := pool.Exec(ctx, "DELETE FROM dependents WHERE id = $1", id)
	if err != nil {
		logrus.WithError(err).WithField("dependent_id", id).Error("Error deleting dependent")
		JSONError(w, http.StatusInternalServerError, "Failed to delete dependent")
		return
	}
	if tag.RowsAffected() == 0 {
		JSONError(w, http.StatusNotFound, "Dependent not found")
		return
	}

	userID := ctxkeys.GetUserID(r.Context())
	go logActivity(pool, userID, "deleted", "dependent", id, nil)

	JSON(w, http.StatusOK, map[string]string{"message": "Dependent removed successfully"})
}
