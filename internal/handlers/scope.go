package handlers

import (
	"context"
	"fmt"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
)

// appendCompanyScope adds a company_id scope filter to a dynamic WHERE clause.
// colExpr is the SQL column expression to filter on (e.g. "b.company_id", "c.id").
// If the user has global scope, nothing is added. An empty scope matches nothing.
func appendCompanyScope(ctx context.Context, where string, args []interface{}, argIdx int, colExpr string) (string, []interface{}, int) {
	scope := ctxkeys.GetCompanyScope(ctx)
	if scope == nil {
		return where, args, argIdx
	}
	where += fmt.Sprintf(" AND %s::text = ANY($%d)", colExpr, argIdx)
	args = append(args, scope)
	argIdx++
	return where, args, argIdx
}

// scopeOf returns the caller's company scope. A request that was never
// authorized has an empty scope.
func scopeOf(ctx context.Context) authz.CompanyScope {
	if pc := ctxkeys.GetPermissionContext(ctx); pc != nil {
		return pc.Scope()
	}
	return authz.CompaniesScope()
}

// checkCompanyAccess reports whether the caller may touch a row owned by
// companyID. A nil company is only reachable with global scope.
func checkCompanyAccess(ctx context.Context, companyID *string) bool {
	return authz.CheckCompanyScope(ctxkeys.GetPermissionContext(ctx), companyID).Allowed
}

// checkBeneficiaryAccess looks up the beneficiary's company and checks scope.
func checkBeneficiaryAccess(ctx context.Context, pool database.Pool, beneficiaryID string) bool {
	if ctxkeys.IsGlobalScope(ctx) {
		return true
	}
	var companyID string
	err := pool.QueryRow(ctx, "SELECT COALESCE(company_id::text, '') FROM beneficiaries WHERE id = $1", beneficiaryID).Scan(&companyID)
	if err != nil {
		return false
	}
	return checkCompanyAccess(ctx, nilIfEmpty(companyID))
}

// checkDependentAccess looks up the company of the dependent's beneficiary and checks scope.
func checkDependentAccess(ctx context.Context, pool database.Pool, dependentID string) bool {
	if ctxkeys.IsGlobalScope(ctx) {
		return true
	}
	var companyID string
	err := pool.QueryRow(ctx,
		"SELECT COALESCE(b.company_id::text, '') FROM dependents d JOIN beneficiaries b ON b.id = d.beneficiary_id WHERE d.id = $1",
		dependentID,
	).Scan(&companyID)
	if err != nil {
		return false
	}
	return checkCompanyAccess(ctx, nilIfEmpty(companyID))
}
