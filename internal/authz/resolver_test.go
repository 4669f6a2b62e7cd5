package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contextWith builds a context whose single role grants exactly perms.
func contextWith(scope CompanyScope, perms ...string) *PermissionContext {
	snap := NewCatalogSnapshot([]RoleDefinition{{Name: "tester", Permissions: perms}}, time.Now())
	return NewPermissionContext("u-1", []string{"tester"}, snap, scope)
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"empty", "", nil},
		{"single", "view_dashboard_company", []string{"view_dashboard_company"}},
		{"alternatives", "a|b|c", []string{"a", "b", "c"}},
		{"dedupes keeping first", "b|a|b|a", []string{"b", "a"}},
		{"drops empty segments", "|a||b|", []string{"a", "b"}},
		{"trims whitespace", " a | b ", []string{"a", "b"}},
		{"all empty", "|||", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExpression(tt.expr))
		})
	}
}

func TestAlternateKey(t *testing.T) {
	alt, ok := AlternateKey("manage_users_company")
	require.True(t, ok)
	assert.Equal(t, "manage_users_all", alt)

	alt, ok = AlternateKey("manage_users_all")
	require.True(t, ok)
	assert.Equal(t, "manage_users_company", alt)

	_, ok = AlternateKey("view_dashboard")
	assert.False(t, ok)

	// "_all" must be a suffix, not merely present.
	_, ok = AlternateKey("install_widgets")
	assert.False(t, ok)
}

func TestResolve_AllSatisfiesCompanyAndBack(t *testing.T) {
	keys := []string{
		"manage_users_company",
		"view_beneficiaries_company",
		"export_reports_company",
		"x_company",
	}
	for _, k := range keys {
		all, _ := AlternateKey(k)

		pc := contextWith(GlobalScope(), all)
		require.False(t, pc.HasPermission(k))
		d := Resolve(pc, k)
		assert.True(t, d.Allowed, "holding %s must satisfy %s", all, k)
		assert.True(t, d.ViaAlternate)
		assert.Equal(t, all, d.MatchedKey)

		pc = contextWith(GlobalScope(), k)
		d = Resolve(pc, all)
		assert.True(t, d.Allowed, "holding %s must satisfy %s", k, all)
		assert.True(t, d.ViaAlternate)
	}
}

func TestResolve_Scenarios(t *testing.T) {
	t.Run("alternate grants narrower request", func(t *testing.T) {
		pc := contextWith(GlobalScope(), "manage_users_all")
		assert.True(t, Resolve(pc, "manage_users_company").Allowed)
	})

	t.Run("no permissions denies", func(t *testing.T) {
		pc := contextWith(GlobalScope())
		d := Resolve(pc, "manage_users_company")
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "manage_users_company")
	})

	t.Run("either alternative satisfies", func(t *testing.T) {
		expr := "view_dashboard_company|view_dashboard_all"
		assert.True(t, Resolve(contextWith(GlobalScope(), "view_dashboard_company"), expr).Allowed)
		assert.True(t, Resolve(contextWith(GlobalScope(), "view_dashboard_all"), expr).Allowed)
		assert.False(t, Resolve(contextWith(GlobalScope(), "view_reports_all"), expr).Allowed)
	})

	t.Run("direct match preferred over alternate", func(t *testing.T) {
		pc := contextWith(GlobalScope(), "edit_x_company", "edit_x_all")
		d := Resolve(pc, "edit_x_company")
		assert.True(t, d.Allowed)
		assert.False(t, d.ViaAlternate)
		assert.Equal(t, "edit_x_company", d.MatchedKey)
	})

	t.Run("keys without suffix need exact match", func(t *testing.T) {
		pc := contextWith(GlobalScope(), "view_dashboard_all")
		assert.False(t, Resolve(pc, "view_dashboard").Allowed)
	})

	t.Run("empty expression allows", func(t *testing.T) {
		assert.True(t, Resolve(contextWith(GlobalScope()), "").Allowed)
		assert.True(t, Resolve(contextWith(GlobalScope()), "| |").Allowed)
		assert.True(t, Resolve(nil, "").Allowed)
	})

	t.Run("nil context denies non-empty expression", func(t *testing.T) {
		assert.False(t, Resolve(nil, "view_dashboard_all").Allowed)
	})
}

func TestPermissionContext_DerivesFromRoles(t *testing.T) {
	snap := NewCatalogSnapshot([]RoleDefinition{
		{Name: "helpdesk", Permissions: []string{"view_beneficiaries_company", "manage_beneficiaries_company"}},
		{Name: "auditor", Permissions: []string{"view_activity_all", "view_beneficiaries_company"}},
		{Name: "admin", Permissions: []string{"manage_users_all"}, Global: true},
	}, time.Now())

	pc := NewPermissionContext("u-7", []string{"helpdesk", "auditor", "auditor", "ghost"}, snap, CompaniesScope("5", "7"))

	assert.Equal(t, "u-7", pc.UserID())
	assert.Equal(t, []string{"auditor", "ghost", "helpdesk"}, pc.Roles())
	assert.Equal(t, []string{
		"manage_beneficiaries_company",
		"view_activity_all",
		"view_beneficiaries_company",
	}, pc.Permissions())
	assert.False(t, pc.IsGlobalScope())

	ids, ok := pc.CompanyIDs()
	require.True(t, ok)
	assert.Equal(t, []string{"5", "7"}, ids)

	t.Run("WithRoles recomputes and leaves the original alone", func(t *testing.T) {
		admin := pc.WithRoles([]string{"admin"}, CompaniesScope("5", "7"))
		assert.True(t, admin.HasPermission("manage_users_all"))
		assert.False(t, admin.HasPermission("view_activity_all"))
		assert.True(t, admin.IsGlobalScope())

		_, ok := admin.CompanyIDs()
		assert.False(t, ok)

		assert.False(t, pc.HasPermission("manage_users_all"))
		assert.False(t, pc.IsGlobalScope())
	})
}

func TestPermissionContext_NilCatalogGrantsNothing(t *testing.T) {
	pc := NewPermissionContext("u-1", []string{"admin"}, nil, CompaniesScope())
	assert.Empty(t, pc.Permissions())
	assert.False(t, Resolve(pc, "anything_all").Allowed)
}
