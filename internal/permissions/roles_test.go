package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
)

func TestRolesListsAdminFirst(t *testing.T) {
	e, _ := newEngine(t, editorBackend())

	roles := e.Roles()
	require.Len(t, roles, 3)
	assert.Equal(t, models.RoleAdmin, roles[0].Name)
	assert.Equal(t, "designer", roles[1].Name)
	assert.Equal(t, "editor", roles[2].Name)
}

func TestAddRole(t *testing.T) {
	b := editorBackend()
	b.nextID = "9"
	e, center := newEngine(t, b)

	role, err := e.AddRole(context.Background(), models.RoleDraft{Name: "copywriter", Label: "Copywriter", Emoji: "✍️"})
	require.NoError(t, err)

	assert.Equal(t, "9", role.ID)
	assert.True(t, role.IsCustom)
	assert.True(t, e.HasRole("copywriter"))
	assert.False(t, e.CanEditColumn("copywriter", models.ColumnNotes))
	require.NoError(t, e.SetColumnPermission(context.Background(), "copywriter", models.ColumnTextContent, true))

	got := center.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "Role Copywriter created", got[0].Message)
}

func TestAddRoleRejectsBadInput(t *testing.T) {
	e, center := newEngine(t, editorBackend())
	ctx := context.Background()

	tests := []struct {
		name  string
		draft models.RoleDraft
		kind  apierr.Kind
	}{
		{"missing name", models.RoleDraft{Label: "X"}, apierr.KindValidation},
		{"uppercase slug", models.RoleDraft{Name: "Editor2", Label: "X"}, apierr.KindValidation},
		{"admin slug", models.RoleDraft{Name: "admin", Label: "X"}, apierr.KindValidation},
		{"missing label", models.RoleDraft{Name: "writer"}, apierr.KindValidation},
		{"duplicate", models.RoleDraft{Name: "editor", Label: "Editor"}, apierr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddRole(ctx, tt.draft)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apierr.KindOf(err))

			got := center.Drain()
			require.Len(t, got, 1)
			assert.Equal(t, notify.LevelError, got[0].Level)
			assert.Contains(t, got[0].Message, "Failed to create role: ")
		})
	}
}

func TestUpdateRoleKeepsName(t *testing.T) {
	e, _ := newEngine(t, editorBackend())

	updated, err := e.UpdateRole(context.Background(), "1", "Senior Editor", "📝")
	require.NoError(t, err)

	assert.Equal(t, "editor", updated.Name)
	assert.Equal(t, "Senior Editor", updated.Label)

	_, err = e.UpdateRole(context.Background(), "404", "Nobody", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestDeleteRoleInUse(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		message string
	}{
		{"one user", 1, "Cannot delete role: 1 user is still assigned to it"},
		{"several users", 4, "Cannot delete role: 4 users are still assigned to it"},
		{"unknown count", -1, "Cannot delete role: it is still assigned to users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := editorBackend()
			b.deleteErr = apierr.Conflict("role in use", tt.count)
			e, center := newEngine(t, b)

			err := e.DeleteRole(context.Background(), "2")
			require.Error(t, err)
			assert.Equal(t, tt.message, err.Error())
			assert.ErrorIs(t, err, apierr.ErrConflict)

			assert.True(t, e.HasRole("designer"))
			assert.True(t, e.CanEditColumn("designer", models.ColumnDesign))
			got := center.Drain()
			require.Len(t, got, 1)
			assert.Equal(t, notify.LevelError, got[0].Level)
			assert.Contains(t, got[0].Message, tt.message)
		})
	}
}

func TestDeleteRolePurgesRows(t *testing.T) {
	b := editorBackend()
	b.actions = append(b.actions, models.ActionPermission{Role: "designer", Resource: models.ResourceContent, Action: models.ActionUpdate, CanPerform: true})
	e, _ := newEngine(t, b)

	require.NoError(t, e.DeleteRole(context.Background(), "2"))

	assert.Equal(t, []string{"2"}, b.deleted)
	assert.False(t, e.HasRole("designer"))
	assert.False(t, e.CanEditColumn("designer", models.ColumnDesign))
	assert.False(t, e.CanPerformAction("designer", models.ResourceContent, models.ActionUpdate))
	assert.NotContains(t, e.ColumnMatrix(), "designer")
	assert.NotContains(t, e.ActionMatrix(), "designer")
}

func TestDeleteRoleTreatsBackend404AsDeleted(t *testing.T) {
	b := editorBackend()
	b.deleteErr = apierr.NotFound("Role not found")
	e, _ := newEngine(t, b)

	require.NoError(t, e.DeleteRole(context.Background(), "1"))
	assert.False(t, e.HasRole("editor"))
}

func TestDeleteRoleGuards(t *testing.T) {
	b := editorBackend()
	e, center := newEngine(t, b)

	assert.ErrorIs(t, e.DeleteRole(context.Background(), models.RoleAdmin), apierr.ErrAdminImmutable)
	assert.ErrorIs(t, e.DeleteRole(context.Background(), "77"), apierr.ErrNotFound)
	_, err := e.UpdateRole(context.Background(), "77", "Ghost", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Empty(t, b.deleted)

	got := center.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "Failed to delete role: admin permissions cannot be changed", got[0].Message)
	assert.Equal(t, "Failed to delete role: role 77 not found", got[1].Message)
	assert.Equal(t, "Failed to update role: role 77 not found", got[2].Message)
}
