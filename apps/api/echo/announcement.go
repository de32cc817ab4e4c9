package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
)

type announcementApi struct {
	svc *announcement.Service
}

func registerAnnouncementAPI(g *echo.Group, svc *announcement.Service) {
	api := announcementApi{svc: svc}

	ag := g.Group("/announcements")
	ag.GET("", api.active)
	ag.POST("", api.create, staffMiddleware())
}

func (api *announcementApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data announcement.NewAnnouncement
	if err = ctx.Bind(&data); err != nil {
		return core.NewValidationError(errors.New("invalid JSON data"))
	}

	a, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating announcement")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *announcementApi) active(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	as, err := api.svc.Active(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "getting announcements")
	}
	return ctx.JSON(http.StatusOK, as)
}
