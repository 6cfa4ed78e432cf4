package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
)

// ActionChecker answers whether a role may perform an action on a resource.
type ActionChecker interface {
	CanPerformAction(role string, resource models.Resource, action models.Action) bool
}

// GetRequiredActionForMethod maps an HTTP method onto the action it performs.
func GetRequiredActionForMethod(method string) (models.Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return models.ActionRead, true
	case http.MethodPost:
		return models.ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return models.ActionUpdate, true
	case http.MethodDelete:
		return models.ActionDelete, true
	default:
		return "", false
	}
}

// RequireRead rejects requests from roles that may not read resource. Writes
// are checked by the sync controllers, which also gate individual columns.
func RequireRead(checker ActionChecker, resource models.Resource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			action, ok := GetRequiredActionForMethod(c.Request().Method)
			if !ok {
				return echo.NewHTTPError(http.StatusMethodNotAllowed, "Invalid request method")
			}
			if action != models.ActionRead {
				return next(c)
			}
			if !checker.CanPerformAction(GetUserRole(c), resource, models.ActionRead) {
				return apierr.PermissionDenied("You do not have permission to read %s", resource)
			}
			return next(c)
		}
	}
}

// RequireAdmin lets only the admin role through.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !models.IsAdmin(GetUserRole(c)) {
				return apierr.PermissionDenied("Only admins can manage permissions")
			}
			return next(c)
		}
	}
}
