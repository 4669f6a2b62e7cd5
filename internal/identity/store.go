// Package identity assembles a PermissionContext for an authenticated user.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/database"
)

// ErrUserNotFound is returned when the user row does not exist.
var ErrUserNotFound = errors.New("identity: user not found")

// Store reads the account state and the role and company assignments of a user.
type Store interface {
	MustResetPassword(ctx context.Context, userID string) (bool, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	UserCompanies(ctx context.Context, userID string) ([]string, error)
}

// PgStore implements Store and authz.CatalogLoader on PostgreSQL.
type PgStore struct {
	pool database.Pool
}

// NewPgStore creates a store on pool.
func NewPgStore(pool database.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// MustResetPassword reports whether an administrator has forced userID to
// pick a new password. A missing user is ErrUserNotFound.
func (s *PgStore) MustResetPassword(ctx context.Context, userID string) (bool, error) {
	var pending bool
	err := s.pool.QueryRow(ctx, `SELECT must_reset_password FROM users WHERE id = $1`, userID).Scan(&pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return pending, nil
}

// UserRoles returns the role names assigned to userID. A user with no roles
// gets an empty slice.
func (s *PgStore) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT role_name FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user roles: %w", err)
	}
	return roles, nil
}

// UserCompanies returns the company IDs assigned to userID.
func (s *PgStore) UserCompanies(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT company_id::text FROM user_companies WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user companies: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user companies: %w", err)
	}
	return ids, nil
}

// LoadRoles implements authz.CatalogLoader.
func (s *PgStore) LoadRoles(ctx context.Context) ([]authz.RoleDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.name, r.is_global, COALESCE(array_agg(rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_name = r.name
		GROUP BY r.name, r.is_global
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var defs []authz.RoleDefinition
	for rows.Next() {
		var d authz.RoleDefinition
		if err := rows.Scan(&d.Name, &d.Global, &d.Permissions); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return defs, nil
}
