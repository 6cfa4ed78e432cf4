package models

import (
	"fmt"
	"strings"
)

// DefaultColumnPermissions is the factory column table: every custom role is
// denied every column. Admin has no rows; its rights are implicit.
func DefaultColumnPermissions(roles []Role) []ColumnPermission {
	var rows []ColumnPermission
	for _, role := range roles {
		if IsAdmin(role.Name) {
			continue
		}
		for _, column := range Columns {
			rows = append(rows, ColumnPermission{
				Role:    role.Name,
				Column:  column,
				CanEdit: false,
			})
		}
	}
	return rows
}

// Scope is a "resource:action" pair, e.g. "tasks:update". A "*" action expands
// to every action on the resource.
type Scope struct {
	Resource Resource
	Action   Action
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Resource, s.Action)
}

// ParseScope turns "tasks:update" or "tasks:*" into one or more scopes.
func ParseScope(raw string) ([]Scope, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid permission scope format: %s", raw)
	}

	resource := Resource(parts[0])
	if !IsValidResource(resource) {
		return nil, fmt.Errorf("unknown resource %q in scope %s", parts[0], raw)
	}

	if parts[1] == "*" {
		scopes := make([]Scope, 0, len(Actions))
		for _, action := range Actions {
			scopes = append(scopes, Scope{Resource: resource, Action: action})
		}
		return scopes, nil
	}

	action := Action(parts[1])
	if !IsValidAction(action) {
		return nil, fmt.Errorf("unknown action %q in scope %s", parts[1], raw)
	}
	return []Scope{{Resource: resource, Action: action}}, nil
}
