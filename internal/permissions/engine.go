// Package permissions is the Permission Engine: the role → column/action →
// allowed decision table, kept as an optimistic cache of the backend's tables.
package permissions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
	"agencycrm/internal/utils/logger"
)

// Backend is the remote store of record for roles and permission rows.
type Backend interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	ListColumnPermissions(ctx context.Context) ([]models.ColumnPermission, error)
	ListActionPermissions(ctx context.Context) ([]models.ActionPermission, error)
	UpdateColumnPermission(ctx context.Context, row models.ColumnPermission) error
	UpdateActionPermission(ctx context.Context, row models.ActionPermission) error
	ResetColumnPermissions(ctx context.Context) error
	CreateRole(ctx context.Context, draft models.RoleDraft) (models.Role, error)
	UpdateRole(ctx context.Context, id, label, emoji string) (models.Role, error)
	DeleteRole(ctx context.Context, id string) error
}

type columnKey struct {
	role   string
	column models.Column
}

type actionKey struct {
	role     string
	resource models.Resource
	action   models.Action
}

// Options tunes an Engine.
type Options struct {
	// Strict logs lookups against roles the engine does not know. Meant for
	// non-production builds, where such a lookup is a stale reference bug.
	Strict bool
}

// Engine answers permission questions and edits the permission tables.
// Reads never block on the network; writes are applied locally first and
// reverted if the backend rejects them.
type Engine struct {
	backend  Backend
	notifier notify.Notifier
	validate *validator.Validate
	strict   bool
	log      *logger.Logger

	mu sync.RWMutex
	// version counts local writes; tables fetched before a write are stale.
	version uint64
	roles   map[string]models.Role
	columns map[columnKey]bool
	actions map[actionKey]bool
}

func NewEngine(backend Backend, notifier notify.Notifier, opts Options) *Engine {
	v := validator.New()
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return &Engine{
		backend:  backend,
		notifier: notifier,
		validate: v,
		strict:   opts.Strict,
		log:      logger.New("PERMISSIONS"),
		roles:    make(map[string]models.Role),
		columns:  make(map[columnKey]bool),
		actions:  make(map[actionKey]bool),
	}
}

// Tables is one fetch of the backend's roles and permission rows.
type Tables struct {
	Roles   []models.Role
	Columns []models.ColumnPermission
	Actions []models.ActionPermission
	version uint64
}

// Load replaces the cached roles and tables with the backend's.
func (e *Engine) Load(ctx context.Context) error {
	t, err := e.Fetch(ctx)
	if err != nil {
		return err
	}
	if !e.Apply(t) {
		e.log.Debug("Discarded permission tables fetched before a local change")
	}
	return nil
}

// Fetch reads the backend tables without touching the cache.
func (e *Engine) Fetch(ctx context.Context) (Tables, error) {
	e.mu.RLock()
	version := e.version
	e.mu.RUnlock()

	roles, err := e.backend.ListRoles(ctx)
	if err != nil {
		return Tables{}, e.log.Error("Failed to load roles", err)
	}
	columns, err := e.backend.ListColumnPermissions(ctx)
	if err != nil {
		return Tables{}, e.log.Error("Failed to load column permissions", err)
	}
	actions, err := e.backend.ListActionPermissions(ctx)
	if err != nil {
		return Tables{}, e.log.Error("Failed to load action permissions", err)
	}
	return Tables{Roles: roles, Columns: columns, Actions: actions, version: version}, nil
}

// Apply replaces the cache with t unless a local write happened after t was
// fetched. Admin rows are ignored.
func (e *Engine) Apply(t Tables) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.version != e.version {
		return false
	}

	e.roles = make(map[string]models.Role, len(t.Roles))
	for _, r := range t.Roles {
		if models.IsAdmin(r.Name) {
			continue
		}
		e.roles[r.Name] = r
	}
	e.columns = make(map[columnKey]bool, len(t.Columns))
	for _, row := range t.Columns {
		if models.IsAdmin(row.Role) {
			continue
		}
		e.columns[columnKey{row.Role, row.Column}] = row.CanEdit
	}
	e.actions = make(map[actionKey]bool, len(t.Actions))
	for _, row := range t.Actions {
		if models.IsAdmin(row.Role) {
			continue
		}
		e.actions[actionKey{row.Role, row.Resource, row.Action}] = row.CanPerform
	}

	e.log.Info("Loaded %d roles, %d column rows, %d action rows", len(e.roles), len(e.columns), len(e.actions))
	return true
}

// CanEditColumn is true for admin, otherwise the role's row for column,
// defaulting to false.
func (e *Engine) CanEditColumn(role string, column models.Column) bool {
	if models.IsAdmin(role) {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.checkKnownLocked(role)
	return e.columns[columnKey{role, column}]
}

// CanPerformAction is true for admin, otherwise the role's row for
// (resource, action), defaulting to false.
func (e *Engine) CanPerformAction(role string, resource models.Resource, action models.Action) bool {
	if models.IsAdmin(role) {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.checkKnownLocked(role)
	return e.actions[actionKey{role, resource, action}]
}

func (e *Engine) checkKnownLocked(role string) {
	if !e.strict {
		return
	}
	if _, ok := e.roles[role]; !ok {
		e.log.Warn("Permission lookup for unknown role %q; answering false", role)
	}
}

// SetColumnPermission upserts (role, column) locally, then persists it. The
// local row is reverted if the backend rejects the change.
func (e *Engine) SetColumnPermission(ctx context.Context, role string, column models.Column, canEdit bool) error {
	if models.IsAdmin(role) {
		return e.reject("Failed to update permission", apierr.ErrAdminImmutable)
	}
	if !models.IsValidColumn(column) {
		return e.reject("Failed to update permission", apierr.Validation(fmt.Sprintf("unknown column %q", column)))
	}
	key := columnKey{role, column}

	e.mu.Lock()
	if _, ok := e.roles[role]; !ok {
		e.mu.Unlock()
		return e.reject("Failed to update permission", apierr.Validation(fmt.Sprintf("unknown role %q", role)))
	}
	e.version++
	prev, had := e.columns[key]
	e.columns[key] = canEdit
	e.mu.Unlock()

	err := e.backend.UpdateColumnPermission(ctx, models.ColumnPermission{Role: role, Column: column, CanEdit: canEdit})
	if err != nil {
		e.mu.Lock()
		e.version++
		if current, ok := e.columns[key]; ok && current == canEdit {
			if had {
				e.columns[key] = prev
			} else {
				delete(e.columns, key)
			}
		}
		e.mu.Unlock()
		e.notifyError("Failed to update permission", err)
		return err
	}

	e.touch()
	e.notify(notify.LevelSuccess, fmt.Sprintf("Permission updated: %s %s %s", role, verb(canEdit, "can", "cannot"), column))
	return nil
}

// SetActionPermission has the same contract as SetColumnPermission for the action table.
func (e *Engine) SetActionPermission(ctx context.Context, role string, resource models.Resource, action models.Action, canPerform bool) error {
	if models.IsAdmin(role) {
		return e.reject("Failed to update permission", apierr.ErrAdminImmutable)
	}
	if !models.IsValidResource(resource) {
		return e.reject("Failed to update permission", apierr.Validation(fmt.Sprintf("unknown resource %q", resource)))
	}
	if !models.IsValidAction(action) {
		return e.reject("Failed to update permission", apierr.Validation(fmt.Sprintf("unknown action %q", action)))
	}
	key := actionKey{role, resource, action}

	e.mu.Lock()
	if _, ok := e.roles[role]; !ok {
		e.mu.Unlock()
		return e.reject("Failed to update permission", apierr.Validation(fmt.Sprintf("unknown role %q", role)))
	}
	e.version++
	prev, had := e.actions[key]
	e.actions[key] = canPerform
	e.mu.Unlock()

	row := models.ActionPermission{Role: role, Resource: resource, Action: action, CanPerform: canPerform}
	if err := e.backend.UpdateActionPermission(ctx, row); err != nil {
		e.mu.Lock()
		e.version++
		if current, ok := e.actions[key]; ok && current == canPerform {
			if had {
				e.actions[key] = prev
			} else {
				delete(e.actions, key)
			}
		}
		e.mu.Unlock()
		e.notifyError("Failed to update permission", err)
		return err
	}

	e.touch()
	e.notify(notify.LevelSuccess, fmt.Sprintf("Permission updated: %s %s %s %s", role, verb(canPerform, "can", "cannot"), action, resource))
	return nil
}

// ResetToDefault restores the factory column table once the backend confirms.
// Custom roles survive the reset.
func (e *Engine) ResetToDefault(ctx context.Context) error {
	if err := e.backend.ResetColumnPermissions(ctx); err != nil {
		e.notifyError("Failed to reset permissions", err)
		return err
	}

	e.mu.Lock()
	e.version++
	roles := make([]models.Role, 0, len(e.roles))
	for _, r := range e.roles {
		roles = append(roles, r)
	}
	columns := make(map[columnKey]bool)
	for _, row := range models.DefaultColumnPermissions(roles) {
		columns[columnKey{row.Role, row.Column}] = row.CanEdit
	}
	e.columns = columns
	e.mu.Unlock()

	e.notify(notify.LevelSuccess, "Permissions reset to defaults")
	return nil
}

// ColumnMatrix returns every known role's column rights, admin included.
func (e *Engine) ColumnMatrix() map[string]map[models.Column]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]map[models.Column]bool, len(e.roles)+1)
	admin := make(map[models.Column]bool, len(models.Columns))
	for _, c := range models.Columns {
		admin[c] = true
	}
	out[models.RoleAdmin] = admin
	for name := range e.roles {
		row := make(map[models.Column]bool, len(models.Columns))
		for _, c := range models.Columns {
			row[c] = e.columns[columnKey{name, c}]
		}
		out[name] = row
	}
	return out
}

// ActionMatrix returns every known role's granted scopes ("tasks:update"),
// sorted. Admin is reported with every scope.
func (e *Engine) ActionMatrix() map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string][]string, len(e.roles)+1)
	var all []string
	for _, r := range models.Resources {
		for _, a := range models.Actions {
			all = append(all, models.Scope{Resource: r, Action: a}.String())
		}
	}
	out[models.RoleAdmin] = all
	for name := range e.roles {
		granted := []string{}
		for key, ok := range e.actions {
			if ok && key.role == name {
				granted = append(granted, models.Scope{Resource: key.resource, Action: key.action}.String())
			}
		}
		sort.Strings(granted)
		out[name] = granted
	}
	return out
}

// touch marks a settled write so tables fetched while it was in flight are dropped.
func (e *Engine) touch() {
	e.mu.Lock()
	e.version++
	e.mu.Unlock()
}

func (e *Engine) notify(level notify.Level, message string) {
	if e.notifier == nil {
		return
	}
	n := notify.New(level, message)
	n.Resource = "permissions"
	e.notifier.Notify(n)
}

func (e *Engine) notifyError(prefix string, err error) {
	e.log.Warn("%s: %v", prefix, err)
	e.notify(notify.LevelError, fmt.Sprintf("%s: %s", prefix, apierr.UserMessage(err)))
}

// reject reports a change refused before the backend was asked.
func (e *Engine) reject(prefix string, err *apierr.Error) error {
	e.notifyError(prefix, err)
	return err
}

func verb(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
