package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"agencycrm/internal/api/validator"
	"agencycrm/internal/apierr"
	"agencycrm/internal/config"
	"agencycrm/internal/journal"
	"agencycrm/internal/store"
	console "agencycrm/internal/utils/logger"
)

type Server struct {
	echo    *echo.Echo
	config  *config.Config
	store   *store.Store
	journal *journal.Journal
	redis   *redis.Client
}

var log = console.New("API-Server")

// Options carries the optional collaborators; nil fields disable their routes
// or middleware.
type Options struct {
	Journal *journal.Journal
	Redis   *redis.Client
}

func NewServer(cfg *config.Config, st *store.Store, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Validator = validator.NewValidator()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentLength},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.ContextTimeout(30 * time.Second))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit.RequestsPerSecond))))

	e.HTTPErrorHandler = customHTTPErrorHandler

	s := &Server{
		echo:    e,
		config:  cfg,
		store:   st,
		journal: opts.Journal,
		redis:   opts.Redis,
	}

	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Health check endpoint
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"pending": s.pendingMutations(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (s *Server) pendingMutations() int {
	return s.store.Clients.Pending() + s.store.Projects.Pending() + s.store.Tasks.Pending() +
		s.store.Campaigns.Pending() + s.store.Content.Pending()
}

// Custom HTTP error handler
func customHTTPErrorHandler(err error, c echo.Context) {
	var (
		code    = http.StatusInternalServerError
		message interface{}
		body    = map[string]interface{}{}
	)

	var apiErr *apierr.Error
	var verrs validator.ValidationErrors
	var he *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Status
		if code == 0 {
			code = statusForKind(apiErr.Kind)
		}
		message = apierr.UserMessage(apiErr)
		body["kind"] = apiErr.Kind
		if apiErr.Count >= 0 && apiErr.Kind == apierr.KindConflict {
			body["count"] = apiErr.Count
		}
	case errors.As(err, &verrs):
		code = http.StatusBadRequest
		message = formatValidationErrors(verrs)
	case errors.As(err, &he):
		code = he.Code
		message = he.Message
	default:
		message = http.StatusText(code)
	}

	if code >= http.StatusInternalServerError && apiErr == nil {
		log.Warn("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			body["error"] = message
			body["code"] = code
			body["time"] = time.Now().Format(time.RFC3339)
			err = c.JSON(code, body)
		}
		if err != nil {
			c.Echo().Logger.Error(err)
		}
	}
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindPermissionDenied:
		return http.StatusForbidden
	case apierr.KindValidation:
		return http.StatusUnprocessableEntity
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// formatValidationErrors formats validation errors into a map
func formatValidationErrors(errors validator.ValidationErrors) map[string]string {
	errMap := make(map[string]string)
	for _, err := range errors {
		field := err.Field()
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			errMap[field] = fmt.Sprintf("%s is required", field)
		case "email":
			errMap[field] = fmt.Sprintf("%s must be a valid email", field)
		case "min":
			errMap[field] = fmt.Sprintf("%s must be at least %s", field, param)
		case "max":
			errMap[field] = fmt.Sprintf("%s must be at most %s", field, param)
		case "gte":
			errMap[field] = fmt.Sprintf("%s must be at least %s", field, param)
		case "lte":
			errMap[field] = fmt.Sprintf("%s must be at most %s", field, param)
		case "url":
			errMap[field] = fmt.Sprintf("%s must be a valid URL", field)
		case "oneof":
			errMap[field] = fmt.Sprintf("%s must be one of [%s]", field, param)
		case "role_slug":
			errMap[field] = fmt.Sprintf("%s must be a lowercase slug and not 'admin'", field)
		case "column_name":
			errMap[field] = fmt.Sprintf("%s must be an editable content column", field)
		case "resource_name":
			errMap[field] = fmt.Sprintf("%s must be a known resource", field)
		case "action_name":
			errMap[field] = fmt.Sprintf("%s must be one of create, read, update, delete, export", field)
		default:
			errMap[field] = fmt.Sprintf("%s failed validation: %s", field, tag)
		}
	}
	return errMap
}
