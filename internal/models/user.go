package models

import "net/mail"

// User represents an authenticated portal user.
// Access is granted through roles; scoped roles are confined to assigned companies.
type User struct {
	ID                string   `json:"id"`
	Email             string   `json:"email"`
	PasswordHash      string   `json:"-"` // Never expose in JSON responses
	Name              string   `json:"name"`
	MustResetPassword bool     `json:"mustResetPassword"`
	Roles             []string `json:"roles"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
}

// RegisterRequest contains the fields needed to create a new account.
// New users get the "viewer" role and no companies until an admin assigns them.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate checks that all required registration fields are present.
func (r *RegisterRequest) Validate() map[string]string {
	errors := map[string]string{}

	if _, err := mail.ParseAddress(r.Email); err != nil {
		errors["email"] = "A valid email is required"
	}
	if len(r.Password) < 8 {
		errors["password"] = "Password must be at least 8 characters"
	}
	if r.Name == "" {
		errors["name"] = "Name is required"
	}

	return errors
}

// LoginRequest contains the credentials for authentication.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Validate checks that login credentials are present.
func (r *LoginRequest) Validate() map[string]string {
	errors := map[string]string{}

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

// ChangePasswordRequest replaces the caller's password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate checks the new password is acceptable.
func (r *ChangePasswordRequest) Validate() map[string]string {
	errors := map[string]string{}
	if r.CurrentPassword == "" {
		errors["currentPassword"] = "Current password is required"
	}
	if len(r.NewPassword) < 8 {
		errors["newPassword"] = "Password must be at least 8 characters"
	} else if r.NewPassword == r.CurrentPassword {
		errors["newPassword"] = "New password must differ from the current one"
	}
	return errors
}

// AuthResponse is sent back after successful login/registration.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// UpdateRolesRequest replaces a user's role set.
type UpdateRolesRequest struct {
	Roles []string `json:"roles"`
}

// Validate checks that every role is known.
func (r *UpdateRolesRequest) Validate(known func(string) bool) map[string]string {
	errors := map[string]string{}
	for _, role := range r.Roles {
		if !known(role) {
			errors["roles"] = "Unknown role: " + role
			break
		}
	}
	return errors
}

// SetCompaniesRequest replaces a user's company assignments.
type SetCompaniesRequest struct {
	CompanyIDs []string `json:"companyIds"`
}
