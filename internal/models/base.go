package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for locally persisted tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// Entity is a record held in an optimistic collection. Identity is the only
// thing the controllers need to know; every other field travels as JSON.
type Entity interface {
	EntityID() string
}

// MutationState is where a single optimistic mutation attempt stands.
type MutationState string

const (
	StateIdle       MutationState = "IDLE"
	StatePending    MutationState = "PENDING"
	StateCommitted  MutationState = "COMMITTED"
	StateRolledBack MutationState = "ROLLED_BACK"
)

// Operation names a mutation kind in notifications, events and the journal.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)
