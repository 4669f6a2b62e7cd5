package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/metrics"
)

type fakeStore struct {
	mu        sync.Mutex
	roles     map[string][]string
	companies map[string][]string
	reset     map[string]bool
	rolesErr  error
	compErr   error
	calls     int

	// during runs inside UserRoles, before it returns.
	during func()
}

func (f *fakeStore) MustResetPassword(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[userID]; !ok {
		return false, ErrUserNotFound
	}
	return f.reset[userID], nil
}

func (f *fakeStore) UserRoles(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	roles, ok := f.roles[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return roles, nil
}

func (f *fakeStore) UserCompanies(_ context.Context, userID string) ([]string, error) {
	if f.compErr != nil {
		return nil, f.compErr
	}
	return f.companies[userID], nil
}

type fakeLoader struct{ defs []authz.RoleDefinition }

func (f fakeLoader) LoadRoles(context.Context) ([]authz.RoleDefinition, error) { return f.defs, nil }

func newCatalog(t *testing.T) *authz.RoleCatalog {
	t.Helper()
	c := authz.NewRoleCatalog(fakeLoader{defs: []authz.RoleDefinition{
		{Name: "admin", Permissions: []string{"manage_users_all"}, Global: true},
		{Name: "helpdesk", Permissions: []string{"manage_beneficiaries_company"}},
	}})
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func newStore() *fakeStore {
	return &fakeStore{
		roles: map[string][]string{
			"alice": {"admin"},
			"bob":   {"helpdesk"},
			"carol": {},
		},
		companies: map[string][]string{
			"bob": {"c-1", "c-2"},
		},
	}
}

func TestResolver_BuildsScopedContext(t *testing.T) {
	r := NewResolver(newStore(), newCatalog(t), 0, 0, nil)

	pc, err := r.Resolve(context.Background(), "bob").Context()
	require.NoError(t, err)
	assert.True(t, pc.HasPermission("manage_beneficiaries_company"))
	assert.False(t, pc.IsGlobalScope())
	ids, _ := pc.CompanyIDs()
	assert.Equal(t, []string{"c-1", "c-2"}, ids)

	pc, err = r.Resolve(context.Background(), "alice").Context()
	require.NoError(t, err)
	assert.True(t, pc.IsGlobalScope())

	pc, err = r.Resolve(context.Background(), "carol").Context()
	require.NoError(t, err)
	assert.Empty(t, pc.Permissions())
	ids, scoped := pc.CompanyIDs()
	assert.True(t, scoped)
	assert.Empty(t, ids)
}

func TestResolver_Unavailable(t *testing.T) {
	t.Run("catalog not loaded", func(t *testing.T) {
		r := NewResolver(newStore(), authz.NewRoleCatalog(fakeLoader{}), 0, 0, nil)
		_, err := r.Resolve(context.Background(), "bob").Context()
		assert.ErrorIs(t, err, authz.ErrCatalogNotLoaded)
	})

	t.Run("unknown user", func(t *testing.T) {
		r := NewResolver(newStore(), newCatalog(t), 0, 0, nil)
		_, err := r.Resolve(context.Background(), "mallory").Context()
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		s := newStore()
		s.compErr = errors.New("timeout")
		r := NewResolver(s, newCatalog(t), 0, 0, nil)
		_, err := r.Resolve(context.Background(), "bob").Context()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestResolver_Caches(t *testing.T) {
	s := newStore()
	m := metrics.New()
	catalog := newCatalog(t)
	r := NewResolver(s, catalog, 10, time.Minute, m)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextCache.WithLabelValues("hit")))

	r.Invalidate("bob")
	_, _ = r.Resolve(ctx, "bob").Context()
	assert.Equal(t, 2, s.calls)

	// A catalog refresh makes cached contexts stale.
	require.NoError(t, catalog.Refresh(ctx))
	third, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 3, s.calls)

	r.InvalidateAll()
	_, _ = r.Resolve(ctx, "bob").Context()
	assert.Equal(t, 4, s.calls)
}

func TestResolver_FailuresAreNotCached(t *testing.T) {
	s := newStore()
	s.rolesErr = errors.New("db down")
	r := NewResolver(s, newCatalog(t), 10, time.Minute, nil)

	_, err := r.Resolve(context.Background(), "bob").Context()
	require.Error(t, err)

	s.rolesErr = nil
	_, err = r.Resolve(context.Background(), "bob").Context()
	assert.NoError(t, err)
}

func TestResolver_PasswordResetPending(t *testing.T) {
	s := newStore()
	r := NewResolver(s, newCatalog(t), 10, time.Minute, nil)
	ctx := context.Background()

	pending, err := r.PasswordResetPending(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, pending)

	// Flag set after the context was cached: visible once the user is invalidated.
	s.mu.Lock()
	s.reset = map[string]bool{"bob": true}
	s.mu.Unlock()
	r.Invalidate("bob")

	pending, err = r.PasswordResetPending(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = r.PasswordResetPending(ctx, "mallory")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolver_InvalidateDuringBuildIsNotCached(t *testing.T) {
	s := newStore()
	r := NewResolver(s, newCatalog(t), 10, time.Minute, nil)
	ctx := context.Background()

	// The role change lands while the first build is still reading.
	s.during = func() {
		s.mu.Lock()
		s.during = nil
		s.mu.Unlock()
		r.Invalidate("bob")
	}

	stale, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	assert.Equal(t, 1, s.calls)

	fresh, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, 2, s.calls)

	again, err := r.Resolve(ctx, "bob").Context()
	require.NoError(t, err)
	assert.Same(t, fresh, again)
	assert.Equal(t, 2, s.calls)
}
