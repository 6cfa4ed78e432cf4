package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"agencycrm/internal/models"
)

// Permissions is the remote side of the permission tables and custom roles.
type Permissions struct {
	client *Client
}

func NewPermissions(client *Client) *Permissions {
	return &Permissions{client: client}
}

func (p *Permissions) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := p.client.do(ctx, http.MethodGet, "/permissions/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (p *Permissions) ListColumnPermissions(ctx context.Context) ([]models.ColumnPermission, error) {
	var rows []models.ColumnPermission
	if err := p.client.do(ctx, http.MethodGet, "/permissions", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Permissions) ListActionPermissions(ctx context.Context) ([]models.ActionPermission, error) {
	var rows []models.ActionPermission
	if err := p.client.do(ctx, http.MethodGet, "/permissions/actions", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateColumnPermission posts {role, column, can_edit}.
func (p *Permissions) UpdateColumnPermission(ctx context.Context, row models.ColumnPermission) error {
	return p.client.do(ctx, http.MethodPost, "/permissions/update", row, nil)
}

// UpdateActionPermission posts {role, resource, action, can_perform}.
func (p *Permissions) UpdateActionPermission(ctx context.Context, row models.ActionPermission) error {
	return p.client.do(ctx, http.MethodPost, "/permissions/actions/update", row, nil)
}

// ResetColumnPermissions asks the backend to restore the factory column table.
func (p *Permissions) ResetColumnPermissions(ctx context.Context) error {
	return p.client.do(ctx, http.MethodPost, "/permissions/reset", nil, nil)
}

func (p *Permissions) CreateRole(ctx context.Context, draft models.RoleDraft) (models.Role, error) {
	var role models.Role
	if err := p.client.do(ctx, http.MethodPost, "/permissions/roles", draft, &role); err != nil {
		return models.Role{}, err
	}
	return role, nil
}

func (p *Permissions) UpdateRole(ctx context.Context, id string, label, emoji string) (models.Role, error) {
	var role models.Role
	body := map[string]string{"label": label, "emoji": emoji}
	if err := p.client.do(ctx, http.MethodPut, rolePath(id), body, &role); err != nil {
		return models.Role{}, err
	}
	return role, nil
}

// DeleteRole fails with a conflict when users still hold the role; the
// error's Count carries the number of users when the backend reports it.
func (p *Permissions) DeleteRole(ctx context.Context, id string) error {
	return p.client.do(ctx, http.MethodDelete, rolePath(id), nil, nil)
}

func rolePath(id string) string {
	return fmt.Sprintf("/permissions/roles/%s", url.PathEscape(id))
}
