// Package directory builds the parameterised beneficiary search queries.
package directory

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"benefits-portal/internal/authz"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	// MaxPage bounds page numbers so offsets stay well inside int range.
	MaxPage = 100000
)

// Columns selected for a beneficiary row, in scan order.
const Columns = `b.id, b.company_id::text, b.member_number, b.first_name, b.last_name,
	b.national_id, b.date_of_birth::text, b.email, b.phone, b.status,
	b.created_at, b.updated_at, COALESCE(c.name, '')`

var sortColumns = map[string]string{
	"name":          "b.last_name, b.first_name",
	"member_number": "b.member_number",
	"created_at":    "b.created_at",
	"status":        "b.status",
}

// Query is a directory search request.
type Query struct {
	Search    string
	CompanyID string
	Status    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// FromValues reads a Query from URL query parameters.
func FromValues(get func(string) string) Query {
	page, _ := strconv.Atoi(get("page"))
	limit, _ := strconv.Atoi(get("limit"))
	return Query{
		Search:    get("search"),
		CompanyID: get("company_id"),
		Status:    get("status"),
		Page:      page,
		Limit:     limit,
		SortBy:    get("sort_by"),
		SortOrder: get("sort_order"),
	}
}

// Normalize clamps paging and whitelists sorting.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit < 1 || q.Limit > maxLimit {
		q.Limit = defaultLimit
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		q.SortBy = "name"
	}
	if q.SortOrder != "desc" {
		q.SortOrder = "asc"
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Offset is the row offset of the (normalized) page.
func (q Query) Offset() int { return (q.Page - 1) * q.Limit }

// TotalPages computes the page count for total rows.
func (q Query) TotalPages(total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(q.Limit)))
}

// Statement is a built SQL statement with positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Build returns the count and page statements for q, restricted to scope.
// A non-global scope with no companies matches nothing.
func Build(q Query, scope authz.CompanyScope) (count Statement, page Statement) {
	q = q.Normalize()
	where, args := whereClause(q, scope)

	count = Statement{
		SQL:  "SELECT COUNT(*) FROM beneficiaries b " + where,
		Args: args,
	}

	n := len(args)
	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset())
	page = Statement{
		SQL: fmt.Sprintf(`SELECT %s
		FROM beneficiaries b
		LEFT JOIN companies c ON c.id = b.company_id
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, Columns, where, orderBy(q), n+1, n+2),
		Args: pageArgs,
	}
	return count, page
}

// BuildExport returns the statement for a full, unpaged export of q.
func BuildExport(q Query, scope authz.CompanyScope) Statement {
	q = q.Normalize()
	where, args := whereClause(q, scope)
	return Statement{
		SQL: fmt.Sprintf(`SELECT %s
		FROM beneficiaries b
		LEFT JOIN companies c ON c.id = b.company_id
		%s
		ORDER BY %s`, Columns, where, orderBy(q)),
		Args: args,
	}
}

func whereClause(q Query, scope authz.CompanyScope) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}

	if ids, scoped := scope.IDs(); scoped {
		if len(ids) == 0 {
			where += " AND FALSE"
		} else {
			add("b.company_id::text = ANY($%d)", ids)
		}
	}
	if q.CompanyID != "" {
		add("b.company_id::text = $%d", q.CompanyID)
	}
	if q.Status != "" {
		add("b.status = $%d", q.Status)
	}
	if q.Search != "" {
		args = append(args, "%"+EscapeLike(q.Search)+"%")
		i := len(args)
		where += fmt.Sprintf(
			" AND (b.first_name || ' ' || b.last_name ILIKE $%d OR b.member_number ILIKE $%d OR COALESCE(b.national_id, '') ILIKE $%d)",
			i, i, i)
	}
	return where, args
}

func orderBy(q Query) string {
	cols := strings.Split(sortColumns[q.SortBy], ", ")
	for i, c := range cols {
		cols[i] = c + " " + strings.ToUpper(q.SortOrder)
	}
	return strings.Join(cols, ", ") + ", b.id"
}

// EscapeLike escapes LIKE wildcards so user input matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
