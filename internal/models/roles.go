package models

import "time"

// RoleAdmin is the fixed role that holds every right and cannot be edited.
const RoleAdmin = "admin"

// Role is either the fixed admin role or a custom role created in the dashboard.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Emoji     string    `json:"emoji,omitempty"`
	IsCustom  bool      `json:"isCustom"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleDraft is what the dashboard submits to create a custom role. The id is
// assigned by the backend only.
type RoleDraft struct {
	Name  string `json:"name" validate:"required,role_slug"`
	Label string `json:"label" validate:"required,max=64"`
	Emoji string `json:"emoji" validate:"max=16"`
}

// IsAdmin reports whether role names the fixed admin role.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// AdminRole is the synthetic record for the admin role; it is never persisted.
func AdminRole() Role {
	return Role{
		ID:       RoleAdmin,
		Name:     RoleAdmin,
		Label:    "Administrator",
		Emoji:    "👑",
		IsCustom: false,
	}
}
