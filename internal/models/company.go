package models

// Company owns beneficiaries. Scoped users see only their assigned companies.
type Company struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Code             *string `json:"code,omitempty"`
	BeneficiaryCount int     `json:"beneficiaryCount"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

// CompanyRequest defines the accepted fields for company creation/update.
type CompanyRequest struct {
	Name string  `json:"name"`
	Code *string `json:"code,omitempty"`
}

// Validate checks the company name.
func (r *CompanyRequest) Validate() map[string]string {
	errors := map[string]string{}
	if len(r.Name) < 2 || len(r.Name) > 200 {
		errors["name"] = "Company name must be between 2 and 200 characters"
	}
	return errors
}
