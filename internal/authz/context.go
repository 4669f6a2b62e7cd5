// Package authz decides whether a request may run a protected operation.
//
// A PermissionContext is the per-request snapshot of who is calling: their
// roles, the permissions those roles grant and the companies they are confined
// to. The resolver checks permission expressions against it, the scope guard
// checks row-level company ownership, and the Filter turns both into an HTTP
// outcome.
package authz

import (
	"sort"
)

// CompanyScope is either global (no restriction) or an explicit set of
// company IDs. The zero value is an empty company set, so a scope nobody
// filled in permits no company.
type CompanyScope struct {
	global    bool
	companies map[string]struct{}
}

// GlobalScope returns a scope that is not restricted to any company.
func GlobalScope() CompanyScope {
	return CompanyScope{global: true}
}

// CompaniesScope returns a scope limited to the given company IDs.
// Calling it with no IDs yields a scope that permits no company.
func CompaniesScope(ids ...string) CompanyScope {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return CompanyScope{companies: set}
}

// IsGlobal reports whether the scope is unrestricted.
func (s CompanyScope) IsGlobal() bool { return s.global }

// Contains reports whether companyID falls inside the scope.
func (s CompanyScope) Contains(companyID string) bool {
	if s.global {
		return true
	}
	_, ok := s.companies[companyID]
	return ok
}

// IDs returns the sorted company IDs and true, or nil and false for global scope.
func (s CompanyScope) IDs() ([]string, bool) {
	if s.global {
		return nil, false
	}
	ids := make([]string, 0, len(s.companies))
	for id := range s.companies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, true
}

// PermissionContext is the immutable authorization snapshot for one request.
// Permissions are always derived from roles through a catalog snapshot.
type PermissionContext struct {
	userID      string
	roles       map[string]struct{}
	permissions map[string]struct{}
	scope       CompanyScope
	catalog     *CatalogSnapshot
}

// NewPermissionContext builds a context for userID holding roles. The
// permission set is the union of every role's permissions in snap; roles the
// catalog does not know grant nothing. If any role is marked global in the
// catalog the scope is widened to GlobalScope.
func NewPermissionContext(userID string, roles []string, snap *CatalogSnapshot, scope CompanyScope) *PermissionContext {
	pc := &PermissionContext{
		userID:  userID,
		roles:   make(map[string]struct{}, len(roles)),
		scope:   scope,
		catalog: snap,
	}
	for _, role := range roles {
		if role == "" {
			continue
		}
		pc.roles[role] = struct{}{}
	}
	pc.derive()
	return pc
}

func (pc *PermissionContext) derive() {
	pc.permissions = make(map[string]struct{})
	if pc.catalog == nil {
		return
	}
	for role := range pc.roles {
		def, ok := pc.catalog.Role(role)
		if !ok {
			continue
		}
		for _, p := range def.Permissions {
			pc.permissions[p] = struct{}{}
		}
		if def.Global {
			pc.scope = GlobalScope()
		}
	}
}

// WithRoles returns a copy of pc holding roles instead, with permissions
// recomputed from the same catalog snapshot. The receiver is not modified.
// Scope widening from global roles is recomputed as well, so dropping the
// only global role falls back to the original company list.
func (pc *PermissionContext) WithRoles(roles []string, scope CompanyScope) *PermissionContext {
	return NewPermissionContext(pc.userID, roles, pc.catalog, scope)
}

// BuiltFrom reports whether the context was derived from snap.
func (pc *PermissionContext) BuiltFrom(snap *CatalogSnapshot) bool {
	return pc.catalog == snap
}

// UserID returns the authenticated user, or "" for an anonymous context.
func (pc *PermissionContext) UserID() string { return pc.userID }

// HasPermission reports whether key is in the derived permission set.
func (pc *PermissionContext) HasPermission(key string) bool {
	_, ok := pc.permissions[key]
	return ok
}

// IsGlobalScope reports whether the context is unrestricted by company.
func (pc *PermissionContext) IsGlobalScope() bool { return pc.scope.IsGlobal() }

// CompanyIDs returns the explicit company set and true, or nil and false when
// the context has global scope.
func (pc *PermissionContext) CompanyIDs() ([]string, bool) { return pc.scope.IDs() }

// Scope returns the company scope.
func (pc *PermissionContext) Scope() CompanyScope { return pc.scope }

// Roles returns the role names in sorted order.
func (pc *PermissionContext) Roles() []string { return sortedKeys(pc.roles) }

// Permissions returns the derived permission keys in sorted order.
func (pc *PermissionContext) Permissions() []string { return sortedKeys(pc.permissions) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
