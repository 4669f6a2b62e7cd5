package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestCheckCompanyScope_Global(t *testing.T) {
	pc := contextWith(GlobalScope())
	for _, target := range []*string{nil, strPtr("1"), strPtr("999"), strPtr("")} {
		assert.True(t, CheckCompanyScope(pc, target).Allowed)
	}
}

func TestCheckCompanyScope_Scoped(t *testing.T) {
	pc := contextWith(CompaniesScope("5", "7"))

	assert.False(t, CheckCompanyScope(pc, nil).Allowed, "ownerless records are never in scope")
	assert.True(t, CheckCompanyScope(pc, strPtr("5")).Allowed)
	assert.True(t, CheckCompanyScope(pc, strPtr("7")).Allowed)
	assert.False(t, CheckCompanyScope(pc, strPtr("9")).Allowed)
}

func TestCheckCompanyScope_EmptyScopePermitsNothing(t *testing.T) {
	pc := contextWith(CompaniesScope())
	assert.False(t, CheckCompanyScope(pc, strPtr("1")).Allowed)
	assert.False(t, CheckCompanyScope(pc, nil).Allowed)

	ids, ok := pc.CompanyIDs()
	assert.True(t, ok)
	assert.Empty(t, ids)
}

func TestCheckCompanyScope_IndependentOfPermission(t *testing.T) {
	// Holding the key does not widen the row-level scope.
	pc := contextWith(CompaniesScope("3"), "manage_beneficiaries_all")
	assert.True(t, Resolve(pc, "manage_beneficiaries_company").Allowed)
	assert.False(t, CheckCompanyScope(pc, strPtr("4")).Allowed)

	// And being in scope does not grant a missing key.
	pc = contextWith(CompaniesScope("3"))
	assert.True(t, CheckCompanyScope(pc, strPtr("3")).Allowed)
	assert.False(t, Resolve(pc, "manage_beneficiaries_company").Allowed)
}

func TestCheckCompanyScope_NilContext(t *testing.T) {
	assert.False(t, CheckCompanyScope(nil, strPtr("1")).Allowed)
}

func TestInScope(t *testing.T) {
	pc := contextWith(CompaniesScope("3"))
	assert.True(t, InScope(pc, "3"))
	assert.False(t, InScope(pc, "4"))
	assert.False(t, InScope(pc, ""))
	assert.True(t, InScope(contextWith(GlobalScope()), ""))
}
