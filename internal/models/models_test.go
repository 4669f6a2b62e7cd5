package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestRegisterRequest_Validate(t *testing.T) {
	r := RegisterRequest{Email: "not-an-email", Password: "short"}
	errs := r.Validate()
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
	assert.Contains(t, errs, "name")

	r = RegisterRequest{Email: "ana@example.com", Password: "long-enough", Name: "Ana"}
	assert.Empty(t, r.Validate())
}

func TestChangePasswordRequest_Validate(t *testing.T) {
	r := ChangePasswordRequest{CurrentPassword: "same-password", NewPassword: "same-password"}
	assert.Contains(t, r.Validate(), "newPassword")

	r.NewPassword = "another-password"
	assert.Empty(t, r.Validate())
}

func TestCreateBeneficiaryRequest_Validate(t *testing.T) {
	r := CreateBeneficiaryRequest{Status: "retired", DateOfBirth: strPtr("31/01/1990")}
	errs := r.Validate()
	for _, field := range []string{"companyId", "memberNumber", "firstName", "lastName", "status", "dateOfBirth"} {
		assert.Contains(t, errs, field)
	}

	r = CreateBeneficiaryRequest{
		CompanyID: "c-1", MemberNumber: "M-001", FirstName: "Ana", LastName: "Lima",
		DateOfBirth: strPtr("1990-01-31"),
	}
	assert.Empty(t, r.Validate())
}

func TestUpdateBeneficiaryRequest_Validate(t *testing.T) {
	assert.Empty(t, (&UpdateBeneficiaryRequest{}).Validate())
	assert.Contains(t, (&UpdateBeneficiaryRequest{Status: strPtr("gone")}).Validate(), "status")
	assert.Contains(t, (&UpdateBeneficiaryRequest{FirstName: strPtr("")}).Validate(), "firstName")
}

func TestCreateDependentRequest_Validate(t *testing.T) {
	r := CreateDependentRequest{FirstName: "Leo", LastName: "Lima", Relationship: "cousin"}
	assert.Contains(t, r.Validate(), "relationship")
	r.Relationship = "child"
	assert.Empty(t, r.Validate())
}

func TestUpdateRolesRequest_Validate(t *testing.T) {
	known := func(r string) bool { return r == "viewer" || r == "helpdesk" }
	assert.Empty(t, (&UpdateRolesRequest{Roles: []string{"viewer"}}).Validate(known))
	assert.Contains(t, (&UpdateRolesRequest{Roles: []string{"viewer", "root"}}).Validate(known), "roles")
}

func TestUpdatePermissionsRequest_Validate(t *testing.T) {
	ok := UpdatePermissionsRequest{Permissions: []string{"view_beneficiaries_company", "manage_roles_all"}}
	assert.Empty(t, ok.Validate())

	bad := UpdatePermissionsRequest{Permissions: []string{"view_a|view_b"}}
	assert.Contains(t, bad.Validate(), "permissions")
}

func TestCompanyRequest_Validate(t *testing.T) {
	assert.Contains(t, (&CompanyRequest{Name: "A"}).Validate(), "name")
	assert.Empty(t, (&CompanyRequest{Name: "Acme"}).Validate())
}
