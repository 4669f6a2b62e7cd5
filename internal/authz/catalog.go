package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
)

// ErrCatalogNotLoaded is returned when no catalog snapshot has been loaded yet.
var ErrCatalogNotLoaded = errors.New("authz: role catalog not loaded")

// RoleDefinition is what a role grants.
type RoleDefinition struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	// Global roles lift company scoping entirely (administrators).
	Global bool `json:"global"`
}

// CatalogLoader fetches the full set of role definitions.
type CatalogLoader interface {
	LoadRoles(ctx context.Context) ([]RoleDefinition, error)
}

// CatalogSnapshot is an immutable view of every role definition.
type CatalogSnapshot struct {
	roles    map[string]RoleDefinition
	loadedAt time.Time
}

// NewCatalogSnapshot indexes defs by name. Permission lists are deduplicated
// and sorted; later definitions of the same role are merged into earlier ones.
func NewCatalogSnapshot(defs []RoleDefinition, loadedAt time.Time) *CatalogSnapshot {
	merged := make(map[string]map[string]struct{}, len(defs))
	global := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		set, ok := merged[d.Name]
		if !ok {
			set = make(map[string]struct{})
			merged[d.Name] = set
		}
		for _, p := range d.Permissions {
			if p != "" {
				set[p] = struct{}{}
			}
		}
		global[d.Name] = global[d.Name] || d.Global
	}

	roles := make(map[string]RoleDefinition, len(merged))
	for name, set := range merged {
		roles[name] = RoleDefinition{
			Name:        name,
			Permissions: sortedKeys(set),
			Global:      global[name],
		}
	}
	return &CatalogSnapshot{roles: roles, loadedAt: loadedAt}
}

// Role looks up a single role.
func (s *CatalogSnapshot) Role(name string) (RoleDefinition, bool) {
	d, ok := s.roles[name]
	return d, ok
}

// Roles returns every definition sorted by name.
func (s *CatalogSnapshot) Roles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(s.roles))
	for _, d := range s.roles {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadedAt is when the snapshot was built.
func (s *CatalogSnapshot) LoadedAt() time.Time { return s.loadedAt }

// RoleCatalog holds the current snapshot. Readers never block; Refresh swaps
// the pointer atomically.
type RoleCatalog struct {
	loader  CatalogLoader
	current atomic.Pointer[CatalogSnapshot]
	now     func() time.Time
}

// NewRoleCatalog creates an empty catalog backed by loader.
func NewRoleCatalog(loader CatalogLoader) *RoleCatalog {
	return &RoleCatalog{loader: loader, now: time.Now}
}

// Refresh reloads every role. On failure the previous snapshot stays in place.
func (c *RoleCatalog) Refresh(ctx context.Context) error {
	defs, err := c.loader.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	c.current.Store(NewCatalogSnapshot(defs, c.now()))
	return nil
}

// Snapshot returns the current snapshot or ErrCatalogNotLoaded.
func (c *RoleCatalog) Snapshot() (*CatalogSnapshot, error) {
	snap := c.current.Load()
	if snap == nil {
		return nil, ErrCatalogNotLoaded
	}
	return snap, nil
}
