package models

import (
	"strings"
	"time"
)

// BeneficiaryStatuses lists the accepted values of Beneficiary.Status.
var BeneficiaryStatuses = map[string]bool{"active": true, "suspended": true, "terminated": true}

// Beneficiary is a covered member owned by a company.
// CompanyID is nil for members not yet attached to a company.
type Beneficiary struct {
	ID           string    `json:"id"`
	CompanyID    *string   `json:"companyId"`
	MemberNumber string    `json:"memberNumber"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	NationalID   *string   `json:"nationalId,omitempty"`
	DateOfBirth  *string   `json:"dateOfBirth,omitempty"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BeneficiaryWithCompany includes the owning company's name.
type BeneficiaryWithCompany struct {
	Beneficiary
	CompanyName string `json:"companyName"`
}

// CreateBeneficiaryRequest holds the fields needed to enrol a beneficiary.
type CreateBeneficiaryRequest struct {
	CompanyID    string  `json:"companyId"`
	MemberNumber string  `json:"memberNumber"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	NationalID   *string `json:"nationalId,omitempty"`
	DateOfBirth  *string `json:"dateOfBirth,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Status       string  `json:"status,omitempty"`
}

// Validate checks if the create request contains valid data.
func (r *CreateBeneficiaryRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.CompanyID == "" {
		errors["companyId"] = "Company is required"
	}
	if strings.TrimSpace(r.MemberNumber) == "" {
		errors["memberNumber"] = "Member number is required"
	}
	if len(r.FirstName) < 1 || len(r.FirstName) > 100 {
		errors["firstName"] = "First name must be between 1 and 100 characters"
	}
	if len(r.LastName) < 1 || len(r.LastName) > 100 {
		errors["lastName"] = "Last name must be between 1 and 100 characters"
	}
	if r.Status != "" && !BeneficiaryStatuses[r.Status] {
		errors["status"] = "Status must be 'active', 'suspended', or 'terminated'"
	}
	if r.DateOfBirth != nil && !isDate(*r.DateOfBirth) {
		errors["dateOfBirth"] = "Date of birth must be YYYY-MM-DD"
	}

	return errors
}

// UpdateBeneficiaryRequest holds the fields that can be updated.
type UpdateBeneficiaryRequest struct {
	CompanyID    *string `json:"companyId,omitempty"`
	MemberNumber *string `json:"memberNumber,omitempty"`
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	NationalID   *string `json:"nationalId,omitempty"`
	DateOfBirth  *string `json:"dateOfBirth,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// Validate checks the fields that were provided.
func (r *UpdateBeneficiaryRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.FirstName != nil && (len(*r.FirstName) < 1 || len(*r.FirstName) > 100) {
		errors["firstName"] = "First name must be between 1 and 100 characters"
	}
	if r.LastName != nil && (len(*r.LastName) < 1 || len(*r.LastName) > 100) {
		errors["lastName"] = "Last name must be between 1 and 100 characters"
	}
	if r.Status != nil && !BeneficiaryStatuses[*r.Status] {
		errors["status"] = "Status must be 'active', 'suspended', or 'terminated'"
	}
	if r.DateOfBirth != nil && !isDate(*r.DateOfBirth) {
		errors["dateOfBirth"] = "Date of birth must be YYYY-MM-DD"
	}
	return errors
}

// ── Dependents ───────────────────────────────────────────────

var relationships = map[string]bool{"spouse": true, "child": true, "parent": true, "other": true}

// Dependent is a person covered through a beneficiary.
type Dependent struct {
	ID            string    `json:"id"`
	BeneficiaryID string    `json:"beneficiaryId"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Relationship  string    `json:"relationship"`
	DateOfBirth   *string   `json:"dateOfBirth,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateDependentRequest adds a dependent to a beneficiary.
type CreateDependentRequest struct {
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Relationship string  `json:"relationship"`
	DateOfBirth  *string `json:"dateOfBirth,omitempty"`
}

// Validate checks required dependent fields.
func (r *CreateDependentRequest) Validate() map[string]string {
	errors := map[string]string{}
	if r.FirstName == "" {
		errors["firstName"] = "First name is required"
	}
	if r.LastName == "" {
		errors["lastName"] = "Last name is required"
	}
	if !relationships[r.Relationship] {
		errors["relationship"] = "Relationship must be 'spouse', 'child', 'parent', or 'other'"
	}
	if r.DateOfBirth != nil && !isDate(*r.DateOfBirth) {
		errors["dateOfBirth"] = "Date of birth must be YYYY-MM-DD"
	}
	return errors
}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
