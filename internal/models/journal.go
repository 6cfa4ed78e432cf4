package models

import "gorm.io/datatypes"

// MutationRecord is one settled optimistic mutation, kept for audit.
type MutationRecord struct {
	Base
	Resource  string         `gorm:"index;not null" json:"resource"`
	EntityID  string         `gorm:"index" json:"entityId"`
	Operation Operation      `gorm:"not null" json:"operation"`
	Outcome   MutationState  `gorm:"not null" json:"outcome"`
	Role      string         `json:"role"`
	Message   string         `json:"message,omitempty"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Patch     datatypes.JSON `gorm:"type:jsonb" json:"patch,omitempty"`
}
