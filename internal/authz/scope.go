package authz

// CheckCompanyScope decides whether pc may act on a record owned by
// companyID. A nil companyID is an ownerless record: only global contexts may
// touch it. This check is independent of Resolve and callers apply both.
func CheckCompanyScope(pc *PermissionContext, companyID *string) Decision {
	if pc == nil {
		return Decision{Reason: "no permission context"}
	}
	if pc.IsGlobalScope() {
		return Decision{Allowed: true, Reason: "global scope"}
	}
	if companyID == nil {
		return Decision{Reason: "record has no company"}
	}
	if pc.scope.Contains(*companyID) {
		return Decision{Allowed: true, MatchedKey: *companyID, Reason: "company in scope"}
	}
	return Decision{Reason: "company " + *companyID + " out of scope"}
}

// InScope is CheckCompanyScope for a known, non-empty company ID.
func InScope(pc *PermissionContext, companyID string) bool {
	if companyID == "" {
		return CheckCompanyScope(pc, nil).Allowed
	}
	return CheckCompanyScope(pc, &companyID).Allowed
}
