package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/messaging"
)

type messageApi struct {
	svc *messaging.Service
}

func registerMessageAPI(g *echo.Group, svc *messaging.Service) {
	api := messageApi{svc: svc}

	mg := g.Group("/messages")
	mg.POST("", api.send)
	mg.GET("/inbox", api.inbox)
	mg.GET("/unread", api.unreadCount)
	mg.PUT("/:id/read", api.markRead)
}

func (api *messageApi) send(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data messaging.NewMessage
	if err = ctx.Bind(&data); err != nil {
		return core.NewValidationError(errors.New("invalid JSON data"))
	}

	msg, err := api.svc.Send(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messageApi) inbox(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var q listQuery
	if err = q.Bind(ctx); err != nil {
		return err
	}

	items, err := api.svc.Inbox(ctx.Request().Context(), messaging.InboxFilter{
		RecipientID: usr.ID,
		IsRead:      q.IsRead,
		Page:        q.Page,
	})
	if err != nil {
		return errors.Wrap(err, "getting inbox")
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *messageApi) unreadCount(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	count, err := api.svc.UnreadCount(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "counting unread messages")
	}
	return ctx.JSON(http.StatusOK, countResponse{Count: count})
}

func (api *messageApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.MarkRead(ctx.Request().Context(), ctx.Param("id"), usr); err != nil {
		return errors.Wrap(err, "marking message read")
	}
	return ctx.NoContent(http.StatusNoContent)
}
