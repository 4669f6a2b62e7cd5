package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/directory"
	"benefits-portal/internal/models"
)

// ActivityHandler exposes the audit log.
type ActivityHandler struct {
	db database.Service
}

func NewActivityHandler(db database.Service) *ActivityHandler {
	return &ActivityHandler{db: db}
}

// List handles GET /api/activity
// Filters: entity_type, entity_id, user_id. Paged with page and limit.
// Callers confined to companies only see entries about companies,
// beneficiaries and dependents inside their scope.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	if page > directory.MaxPage {
		page = directory.MaxPage
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if v := q.Get("entity_type"); v != "" {
		where += fmt.Sprintf(" AND a.entity_type = $%d", argIdx)
		args = append(args, v)
		argIdx++
	}
	if v := q.Get("entity_id"); v != "" {
		where += fmt.Sprintf(" AND a.entity_id = $%d", argIdx)
		args = append(args, v)
		argIdx++
	}
	if v := q.Get("user_id"); v != "" {
		where += fmt.Sprintf(" AND a.user_id::text = $%d", argIdx)
		args = append(args, v)
		argIdx++
	}
	where, args, argIdx = appendActivityScope(r.Context(), where, args, argIdx)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pool := h.db.GetPool()

	var total int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_log a "+where, args...).Scan(&total); err != nil {
		logrus.WithError(err).Error("Error counting activity")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.user_id::text, u.name, a.action, a.entity_type, a.entity_id,
			a.details::text, a.created_at::text
		FROM activity_log a
		LEFT JOIN users u ON u.id = a.user_id
		%s
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		logrus.WithError(err).Error("Error querying activity")
		JSONError(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}
	defer rows.Close()

	entries := []models.Activity{}
	for rows.Next() {
		var a models.Activity
		var details string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.UserName, &a.Action, &a.EntityType, &a.EntityID,
			&details, &a.CreatedAt,
		); err != nil {
			logrus.WithError(err).Warn("Error scanning activity")
			continue
		}
		a.Details = json.RawMessage(details)
		entries = append(entries, a)
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}

	JSON(w, http.StatusOK, PaginatedResponse{
		Data: entries,
		Pagination: PaginationMeta{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// appendActivityScope limits activity rows to entities owned by the caller's
// companies. Entries about users and roles, and about entities that no longer
// exist, are only visible with global scope.
func appendActivityScope(ctx context.Context, where string, args []interface{}, argIdx int) (string, []interface{}, int) {
	scope := ctxkeys.GetCompanyScope(ctx)
	if scope == nil {
		return where, args, argIdx
	}
	where += fmt.Sprintf(`
		AND (
			(a.entity_type = 'company' AND a.entity_id = ANY($%[1]d))
			OR (a.entity_type = 'beneficiary' AND EXISTS (
				SELECT 1 FROM beneficiaries sb
				WHERE sb.id::text = a.entity_id AND sb.company_id::text = ANY($%[1]d)
			))
			OR (a.entity_type = 'dependent' AND EXISTS (
				SELECT 1 FROM dependents sd JOIN beneficiaries sb ON sb.id = sd.beneficiary_id
				WHERE sd.id::text = a.entity_id AND sb.company_id::text = ANY($%[1]d)
			))
		)`, argIdx)
	args = append(args, scope)
	argIdx++
	return where, args, argIdx
}
