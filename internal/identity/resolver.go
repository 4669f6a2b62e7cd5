package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/metrics"
)

// SnapshotSource yields the current role catalog snapshot.
type SnapshotSource interface {
	Snapshot() (*authz.CatalogSnapshot, error)
}

// Resolver builds permission contexts and caches them per user.
type Resolver struct {
	store   Store
	catalog SnapshotSource
	cache   *lru.LRU[string, entry]
	metrics *metrics.Metrics

	// gen moves on every invalidation. A build that started before the
	// move is returned to its caller but not cached.
	mu  sync.Mutex
	gen uint64
}

// entry is what the cache holds for one user.
type entry struct {
	pc           *authz.PermissionContext
	resetPending bool
}

// NewResolver creates a resolver. size <= 0 or ttl <= 0 disables caching.
func NewResolver(store Store, catalog SnapshotSource, size int, ttl time.Duration, m *metrics.Metrics) *Resolver {
	r := &Resolver{store: store, catalog: catalog, metrics: m}
	if size > 0 && ttl > 0 {
		r.cache = lru.NewLRU[string, entry](size, nil, ttl)
	}
	return r
}

// Resolve returns the user's context, or Unavailable when roles, companies or
// the catalog cannot be read. A context built from an older catalog snapshot
// is rebuilt rather than served from cache.
func (r *Resolver) Resolve(ctx context.Context, userID string) authz.ContextResult {
	e, err := r.lookup(ctx, userID)
	if err != nil {
		return authz.Unavailable(err)
	}
	return authz.Resolved(e.pc)
}

// PasswordResetPending reports whether userID must change password before
// doing anything else. It shares the context cache, so UserChanged
// invalidation applies to it as well.
func (r *Resolver) PasswordResetPending(ctx context.Context, userID string) (bool, error) {
	e, err := r.lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.resetPending, nil
}

func (r *Resolver) lookup(ctx context.Context, userID string) (entry, error) {
	snap, err := r.catalog.Snapshot()
	if err != nil {
		return entry{}, err
	}

	if r.cache != nil {
		if e, ok := r.cache.Get(userID); ok && e.pc.BuiltFrom(snap) {
			r.record("hit")
			return e, nil
		}
		r.record("miss")
	}

	gen := r.generation()
	e, err := r.build(ctx, userID, snap)
	if err != nil {
		return entry{}, err
	}
	if r.cache != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.cache.Add(userID, e)
		}
		r.mu.Unlock()
	}
	return e, nil
}

func (r *Resolver) build(ctx context.Context, userID string, snap *authz.CatalogSnapshot) (entry, error) {
	pending, err := r.store.MustResetPassword(ctx, userID)
	if err != nil {
		return entry{}, fmt.Errorf("resolve account for %s: %w", userID, err)
	}
	roles, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		return entry{}, fmt.Errorf("resolve roles for %s: %w", userID, err)
	}
	companies, err := r.store.UserCompanies(ctx, userID)
	if err != nil {
		return entry{}, fmt.Errorf("resolve companies for %s: %w", userID, err)
	}
	return entry{
		pc:           authz.NewPermissionContext(userID, roles, snap, authz.CompaniesScope(companies...)),
		resetPending: pending,
	}, nil
}

func (r *Resolver) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Invalidate drops the cached context for userID.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if r.cache != nil {
		r.cache.Remove(userID)
	}
}

// InvalidateAll drops every cached context.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Resolver) record(result string) {
	if r.metrics != nil {
		r.metrics.ContextCache.WithLabelValues(result).Inc()
	}
}
