package permissions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"

	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
)

var roleSlug = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// RegisterValidations adds the role_slug tag to v.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("role_slug", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return roleSlug.MatchString(name) && !models.IsAdmin(name)
	})
}

// Roles lists admin first, then custom roles by name.
func (e *Engine) Roles() []models.Role {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Role, 0, len(e.roles)+1)
	for _, r := range e.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return append([]models.Role{models.AdminRole()}, out...)
}

// HasRole reports whether name is admin or a loaded custom role.
func (e *Engine) HasRole(name string) bool {
	if models.IsAdmin(name) {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.roles[name]
	return ok
}

func (e *Engine) roleByIDLocked(id string) (models.Role, bool) {
	for _, r := range e.roles {
		if r.ID == id {
			return r, true
		}
	}
	return models.Role{}, false
}

// AddRole creates a custom role. The role exists locally only once the
// backend has assigned its id.
func (e *Engine) AddRole(ctx context.Context, draft models.RoleDraft) (models.Role, error) {
	if err := e.validate.Struct(draft); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.Role{}, e.reject("Failed to create role", apierr.Validation(describeRoleField(verrs[0])))
		}
		return models.Role{}, e.reject("Failed to create role", apierr.Validation(err.Error()))
	}

	e.mu.RLock()
	_, exists := e.roles[draft.Name]
	e.mu.RUnlock()
	if exists {
		return models.Role{}, e.reject("Failed to create role", apierr.Conflict(fmt.Sprintf("A role named %q already exists", draft.Name), -1))
	}

	role, err := e.backend.CreateRole(ctx, draft)
	if err != nil {
		e.notifyError("Failed to create role", err)
		return models.Role{}, err
	}
	if role.Name == "" {
		role.Name = draft.Name
	}
	role.IsCustom = true

	e.mu.Lock()
	e.version++
	e.roles[role.Name] = role
	e.mu.Unlock()

	e.notify(notify.LevelSuccess, fmt.Sprintf("Role %s created", displayName(role)))
	return role, nil
}

// UpdateRole changes a custom role's label and emoji.
func (e *Engine) UpdateRole(ctx context.Context, id, label, emoji string) (models.Role, error) {
	if models.IsAdmin(id) {
		return models.Role{}, e.reject("Failed to update role", apierr.ErrAdminImmutable)
	}
	e.mu.RLock()
	current, ok := e.roleByIDLocked(id)
	e.mu.RUnlock()
	if !ok {
		return models.Role{}, e.reject("Failed to update role", apierr.NotFound(fmt.Sprintf("role %s not found", id)))
	}
	if label == "" {
		return models.Role{}, e.reject("Failed to update role", apierr.Validation("label is required"))
	}

	updated, err := e.backend.UpdateRole(ctx, id, label, emoji)
	if err != nil {
		e.notifyError("Failed to update role", err)
		return models.Role{}, err
	}
	// The name is immutable; the backend may omit fields it did not change.
	updated.ID = current.ID
	updated.Name = current.Name
	updated.IsCustom = true
	if updated.Label == "" {
		updated.Label = label
	}
	if updated.CreatedAt.IsZero() {
		updated.CreatedAt = current.CreatedAt
		updated.CreatedBy = current.CreatedBy
	}

	e.mu.Lock()
	e.version++
	if _, still := e.roles[current.Name]; still {
		e.roles[current.Name] = updated
	}
	e.mu.Unlock()

	e.notify(notify.LevelSuccess, fmt.Sprintf("Role %s updated", displayName(updated)))
	return updated, nil
}

// DeleteRole deletes a custom role once no user holds it. Local rows for the
// role are purged only after the backend confirms.
func (e *Engine) DeleteRole(ctx context.Context, id string) error {
	if models.IsAdmin(id) {
		return e.reject("Failed to delete role", apierr.ErrAdminImmutable)
	}
	e.mu.RLock()
	role, ok := e.roleByIDLocked(id)
	e.mu.RUnlock()
	if !ok {
		return e.reject("Failed to delete role", apierr.NotFound(fmt.Sprintf("role %s not found", id)))
	}

	if err := e.backend.DeleteRole(ctx, id); err != nil && !apierr.IsKind(err, apierr.KindNotFound) {
		if apierr.IsKind(err, apierr.KindConflict) {
			err = roleInUse(err)
		}
		e.notifyError("Failed to delete role", err)
		return err
	}

	e.mu.Lock()
	e.version++
	delete(e.roles, role.Name)
	for key := range e.columns {
		if key.role == role.Name {
			delete(e.columns, key)
		}
	}
	for key := range e.actions {
		if key.role == role.Name {
			delete(e.actions, key)
		}
	}
	e.mu.Unlock()

	e.notify(notify.LevelSuccess, fmt.Sprintf("Role %s deleted", displayName(role)))
	return nil
}

// roleInUse rewrites a backend conflict into the dashboard's wording, keeping
// the user count when the backend supplied one.
func roleInUse(err error) *apierr.Error {
	count := -1
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		count = apiErr.Count
	}
	switch {
	case count == 1:
		return apierr.Conflict("Cannot delete role: 1 user is still assigned to it", count)
	case count > 1:
		return apierr.Conflict(fmt.Sprintf("Cannot delete role: %d users are still assigned to it", count), count)
	default:
		return apierr.Conflict("Cannot delete role: it is still assigned to users", -1)
	}
}

func describeRoleField(fe validator.FieldError) string {
	switch fe.Field() {
	case "Name":
		if fe.Tag() == "required" {
			return "Role name is required"
		}
		return "Role name must be a lowercase slug (letters, digits, - or _) and not \"admin\""
	case "Label":
		if fe.Tag() == "required" {
			return "Role label is required"
		}
		return "Role label must be at most 64 characters"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func displayName(r models.Role) string {
	if r.Label != "" {
		return r.Label
	}
	return r.Name
}
