package models

import (
	"encoding/json"
	"regexp"
)

var permissionKey = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Role is a named permission bundle.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Global      bool     `json:"global"`
	Permissions []string `json:"permissions"`
}

// UpdatePermissionsRequest replaces a role's permission set.
type UpdatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// Validate checks permission keys are well-formed. "|" is reserved for
// expressions and never valid inside a stored key.
func (r *UpdatePermissionsRequest) Validate() map[string]string {
	errors := map[string]string{}
	for _, p := range r.Permissions {
		if !permissionKey.MatchString(p) {
			errors["permissions"] = "Invalid permission key: " + p
			break
		}
	}
	return errors
}

// Activity is one audit-log entry.
type Activity struct {
	ID         int64           `json:"id"`
	UserID     *string         `json:"userId"`
	UserName   *string         `json:"userName,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  string          `json:"createdAt"`
}
