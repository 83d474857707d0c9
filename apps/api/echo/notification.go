package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core/notification"
)

type notificationApi struct {
	svc *notification.Service
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service) {
	api := notificationApi{svc: svc}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.queryMine)
	ng.POST("/read-all", api.markAllRead)
	ng.POST("/:id/read", api.markRead)
}

// Handlers

func (api *notificationApi) queryMine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	notifs, err := api.svc.QueryByUser(claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	if notifs == nil {
		notifs = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	if err := api.svc.MarkRead(ctx.Param("id"), claims.Subject); err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	if err := api.svc.MarkAllRead(claims.Subject); err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.NoContent(http.StatusNoContent)
}
