package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agencycrm/internal/api/validator"
	"agencycrm/internal/models"
	"agencycrm/internal/permissions"
)

type PermissionsController struct {
	engine *permissions.Engine
}

func NewPermissionsController(engine *permissions.Engine) *PermissionsController {
	return &PermissionsController{engine: engine}
}

// Matrix returns roles with their column and action rights.
func (c *PermissionsController) Matrix(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"roles":   c.engine.Roles(),
		"columns": c.engine.ColumnMatrix(),
		"actions": c.engine.ActionMatrix(),
	})
}

// Check answers a single question, either ?role=&column= or ?role=&resource=&action=.
func (c *PermissionsController) Check(ctx echo.Context) error {
	role := ctx.QueryParam("role")
	if role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing role parameter")
	}
	if column := ctx.QueryParam("column"); column != "" {
		return ctx.JSON(http.StatusOK, map[string]interface{}{
			"role":    role,
			"column":  column,
			"allowed": c.engine.CanEditColumn(role, models.Column(column)),
		})
	}
	resource, action := ctx.QueryParam("resource"), ctx.QueryParam("action")
	if resource == "" || action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pass column, or resource and action")
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"role":     role,
		"resource": resource,
		"action":   action,
		"allowed":  c.engine.CanPerformAction(role, models.Resource(resource), models.Action(action)),
	})
}

func (c *PermissionsController) SetColumn(ctx echo.Context) error {
	var req validator.ColumnPermissionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	if err := c.engine.SetColumnPermission(ctx.Request().Context(), req.Role, models.Column(req.Column), *req.CanEdit); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.ColumnPermission{Role: req.Role, Column: models.Column(req.Column), CanEdit: *req.CanEdit})
}

func (c *PermissionsController) SetAction(ctx echo.Context) error {
	var req validator.ActionPermissionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	resource, action := models.Resource(req.Resource), models.Action(req.Action)
	if err := c.engine.SetActionPermission(ctx.Request().Context(), req.Role, resource, action, *req.CanPerform); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.ActionPermission{Role: req.Role, Resource: resource, Action: action, CanPerform: *req.CanPerform})
}

func (c *PermissionsController) Reset(ctx echo.Context) error {
	if err := c.engine.ResetToDefault(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"columns": c.engine.ColumnMatrix()})
}

func (c *PermissionsController) ListRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]interface{}{"data": c.engine.Roles()})
}

func (c *PermissionsController) CreateRole(ctx echo.Context) error {
	var req validator.RoleRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	role, err := c.engine.AddRole(ctx.Request().Context(), models.RoleDraft{Name: req.Name, Label: req.Label, Emoji: req.Emoji})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, role)
}

func (c *PermissionsController) UpdateRole(ctx echo.Context) error {
	var req validator.RoleUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	role, err := c.engine.UpdateRole(ctx.Request().Context(), ctx.Param("id"), req.Label, req.Emoji)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, role)
}

func (c *PermissionsController) DeleteRole(ctx echo.Context) error {
	if err := c.engine.DeleteRole(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// RegisterRoutes mounts the management routes behind m. Check is left to the
// caller since any signed-in role may ask it.
func (c *PermissionsController) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/permissions", c.Matrix, m...)
	g.POST("/permissions/columns", c.SetColumn, m...)
	g.POST("/permissions/actions", c.SetAction, m...)
	g.POST("/permissions/reset", c.Reset, m...)
	g.GET("/roles", c.ListRoles, m...)
	g.POST("/roles", c.CreateRole, m...)
	g.PUT("/roles/:id", c.UpdateRole, m...)
	g.DELETE("/roles/:id", c.DeleteRole, m...)
}
