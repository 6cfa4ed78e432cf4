package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"agencycrm/internal/journal"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
)

// NotificationsController hands buffered toasts to the dashboard.
type NotificationsController struct {
	center *notify.Center
}

func NewNotificationsController(center *notify.Center) *NotificationsController {
	return &NotificationsController{center: center}
}

// List drains pending toasts; ?peek=true leaves them buffered.
func (c *NotificationsController) List(ctx echo.Context) error {
	var pending []notify.Notification
	if ctx.QueryParam("peek") == "true" {
		pending = c.center.Pending()
	} else {
		pending = c.center.Drain()
	}
	if pending == nil {
		pending = []notify.Notification{}
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"data": pending})
}

// JournalLister reads the mutation journal.
type JournalLister interface {
	List(ctx context.Context, q journal.Query) ([]models.MutationRecord, int64, error)
}

type JournalController struct {
	journal JournalLister
}

func NewJournalController(j JournalLister) *JournalController {
	return &JournalController{journal: j}
}

func (c *JournalController) List(ctx echo.Context) error {
	page, _ := strconv.Atoi(ctx.QueryParam("page"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	q := journal.Query{
		Resource: ctx.QueryParam("resource"),
		EntityID: ctx.QueryParam("entityId"),
		Outcome:  models.MutationState(ctx.QueryParam("outcome")),
		Page:     page,
		Limit:    limit,
	}
	records, total, err := c.journal.List(ctx.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"data":  records,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
