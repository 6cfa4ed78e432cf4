package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"agencycrm/internal/api/middleware"
	"agencycrm/internal/api/validator"
	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
	"agencycrm/internal/optimistic"
	"agencycrm/internal/utils"
)

// Collection is the part of an optimistic controller the HTTP layer drives.
type Collection[T models.Entity] interface {
	List() []T
	Get(id string) (T, bool)
	State(id string) models.MutationState
	Create(ctx context.Context, role string, draft T) (T, error)
	Update(ctx context.Context, role, id string, patch map[string]interface{}) (T, error)
	Delete(ctx context.Context, role, id string) error
	BulkUpdate(ctx context.Context, role string, ids []string, patch map[string]interface{}) (optimistic.BulkResult, error)
}

// BaseController exposes one collection over REST
type BaseController[T models.Entity] struct {
	collection Collection[T]
}

// NewBaseController creates a new base controller
func NewBaseController[T models.Entity](collection Collection[T]) *BaseController[T] {
	return &BaseController[T]{
		collection: collection,
	}
}

// Create handles creation of new entities
func (c *BaseController[T]) Create(ctx echo.Context) error {
	var entity T
	if err := ctx.Bind(&entity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}

	if err := ctx.Validate(&entity); err != nil {
		return err
	}

	created, err := c.collection.Create(ctx.Request().Context(), middleware.GetUserRole(ctx), entity)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated, created)
}

// Get handles retrieval of a single entity
func (c *BaseController[T]) Get(ctx echo.Context) error {
	id := ctx.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing id parameter")
	}
	entity, ok := c.collection.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "entity not found")
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"data":  entity,
		"state": c.collection.State(id),
	})
}

// List handles retrieval of multiple entities with pagination and filtering
func (c *BaseController[T]) List(ctx echo.Context) error {
	page, _ := strconv.Atoi(ctx.QueryParam("page"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	// Any other query parameter filters on the record field of that name
	filters := make(map[string]string)
	for key, values := range ctx.QueryParams() {
		if key != "page" && key != "limit" && len(values) > 0 {
			filters[key] = values[0]
		}
	}

	matched := make([]T, 0)
	for _, entity := range c.collection.List() {
		ok, err := matches(entity, filters)
		if err != nil {
			return err
		}
		if ok {
			matched = append(matched, entity)
		}
	}

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"data":  matched[start:end],
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func matches(entity interface{}, filters map[string]string) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	fields, err := utils.ToFields(entity)
	if err != nil {
		return false, err
	}
	for key, want := range filters {
		if fmt.Sprint(fields[key]) != want {
			return false, nil
		}
	}
	return true, nil
}

// Update handles a partial update; only the fields present in the body change.
func (c *BaseController[T]) Update(ctx echo.Context) error {
	id := ctx.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing id parameter")
	}

	// Decoded by hand: the field set matters, so the body cannot go through a struct
	var patch map[string]interface{}
	if err := json.NewDecoder(ctx.Request().Body).Decode(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if len(patch) == 0 {
		return apierr.Validation("Nothing to update")
	}

	entity, err := c.collection.Update(ctx.Request().Context(), middleware.GetUserRole(ctx), id, patch)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, entity)
}

// Delete handles deletion of an entity
func (c *BaseController[T]) Delete(ctx echo.Context) error {
	id := ctx.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing id parameter")
	}

	if err := c.collection.Delete(ctx.Request().Context(), middleware.GetUserRole(ctx), id); err != nil {
		return err
	}

	return ctx.NoContent(http.StatusNoContent)
}

// BulkUpdate applies one patch to many records; each id settles on its own.
func (c *BaseController[T]) BulkUpdate(ctx echo.Context) error {
	var req validator.BulkUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	res, err := c.collection.BulkUpdate(ctx.Request().Context(), middleware.GetUserRole(ctx), req.IDs, req.Patch)
	if err != nil && len(res.Failed) == 0 {
		return err
	}

	failed := make(map[string]string, len(res.Failed))
	for id, ferr := range res.Failed {
		failed[id] = apierr.UserMessage(ferr)
	}
	status := http.StatusOK
	if len(res.Committed) == 0 {
		status = http.StatusUnprocessableEntity
	} else if len(failed) > 0 {
		status = http.StatusMultiStatus
	}
	committed := res.Committed
	if committed == nil {
		committed = []string{}
	}
	return ctx.JSON(status, map[string]interface{}{
		"committed": committed,
		"failed":    failed,
	})
}

// RegisterRoutes registers CRUD routes for the controller
func (c *BaseController[T]) RegisterRoutes(g *echo.Group, path string, m ...echo.MiddlewareFunc) {
	g.GET(path, c.List, m...)
	g.GET(path+"/:id", c.Get, m...)
	g.POST(path, c.Create, m...)
	g.POST(path+"/bulk", c.BulkUpdate, m...)
	g.PUT(path+"/:id", c.Update, m...)
	g.DELETE(path+"/:id", c.Delete, m...)
}
