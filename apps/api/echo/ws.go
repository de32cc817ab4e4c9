package echoapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/pubsub"
)

func newUpgrader(conf *core.Config) *websocket.Upgrader {
	allowed := make(map[string]bool, len(conf.Websocket.AllowedOrigins))
	for _, o := range conf.Websocket.AllowedOrigins {
		allowed[strings.ToLower(o)] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return allowed[strings.ToLower(origin)] || strings.EqualFold(u.Host, r.Host)
		},
	}
}

func registerWebsocketAPI(s *Server, jwt echo.MiddlewareFunc) {
	wg := s.app.Group("/ws", jwt)
	wg.GET("/notifications", s.notificationsWS)
	wg.GET("/chat", s.chatWS)
	wg.GET("/chat/:room", s.chatWS)
}

// chatWS joins the user's personal group, and the room of the path if any.
func (s *Server) chatWS(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	groups := []string{pubsub.UserGroup(usr.ID)}
	if room := ctx.Param("room"); room != "" {
		if err = core.ValidateStruct(s.deps.Validate, s.deps.Translator, roomRequest{RoomID: room}); err != nil {
			return err
		}
		groups = append(groups, pubsub.RoomGroup(room))
	}
	return s.serveWS(ctx, chatEndpoint, groups)
}

func (s *Server) notificationsWS(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return s.serveWS(ctx, notificationEndpoint, []string{pubsub.NotificationGroup(usr.ID)})
}

// serveWS upgrades the request and blocks until the connection ends.
func (s *Server) serveWS(ctx echo.Context, kind endpoint, groups []string) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ws, err := s.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		s.deps.Logger.Debug("websocket upgrade: "+err.Error(), err)
		return nil
	}

	s.conns.Add(1)
	defer s.conns.Done()
	newConn(s, ws, usr, kind).run(s.baseCtx, groups)
	return nil
}
