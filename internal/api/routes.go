package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agencycrm/internal/api/controllers"
	"agencycrm/internal/api/middleware"
	"agencycrm/internal/models"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "agencycrm core")
	})
	s.echo.GET("/health", s.healthCheck)

	// API v1 group
	api := s.echo.Group("/api/v1")
	auth := middleware.NewAuthMiddleware(s.config.JWT.Secret)
	api.Use(auth.Middleware())
	if s.redis != nil {
		limiter := middleware.NewMutationLimiter(s.redis, "dashboard", middleware.RateLimit{
			Window:      s.config.RateLimit.Window,
			MaxRequests: s.config.RateLimit.MaxJobs,
		})
		api.Use(limiter.Middleware())
	}

	engine := s.store.Permissions
	controllers.NewBaseController[models.Client](s.store.Clients).
		RegisterRoutes(api, "/clients", middleware.RequireRead(engine, models.ResourceClients))
	controllers.NewBaseController[models.Project](s.store.Projects).
		RegisterRoutes(api, "/projects", middleware.RequireRead(engine, models.ResourceProjects))
	controllers.NewBaseController[models.Task](s.store.Tasks).
		RegisterRoutes(api, "/tasks", middleware.RequireRead(engine, models.ResourceTasks))
	controllers.NewBaseController[models.Campaign](s.store.Campaigns).
		RegisterRoutes(api, "/campaigns", middleware.RequireRead(engine, models.ResourceCampaigns))
	controllers.NewBaseController[models.Content](s.store.Content).
		RegisterRoutes(api, "/content", middleware.RequireRead(engine, models.ResourceContent))

	perms := controllers.NewPermissionsController(engine)
	api.GET("/permissions/check", perms.Check)
	perms.RegisterRoutes(api, middleware.RequireAdmin())

	notifications := controllers.NewNotificationsController(s.store.Notifications)
	api.GET("/notifications", notifications.List)

	if s.journal != nil {
		api.GET("/journal", controllers.NewJournalController(s.journal).List, middleware.RequireAdmin())
	}
}
