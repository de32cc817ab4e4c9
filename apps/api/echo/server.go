package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.uber.org/dig"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
)

type (
	ServerDeps struct {
		dig.In

		Conf            *core.Config
		Logger          core.Logger
		Registry        *pubsub.Registry
		UserSvc         *user.Service
		MessageSvc      *messaging.Service
		NotificationSvc *notification.Service
		AnnouncementSvc *announcement.Service
		Validate        *validator.Validate
		Translator      ut.Translator
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		upgrader *websocket.Upgrader
		errors   chan error
		shutdown chan os.Signal

		// websocket connections are hijacked: http.Server.Shutdown does not see them
		baseCtx    context.Context
		cancelConn context.CancelFunc
		conns      sync.WaitGroup
	}
)

func NewServer(deps ServerDeps) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		app:        echo.New(),
		upgrader:   newUpgrader(deps.Conf),
		errors:     make(chan error, 1),
		shutdown:   make(chan os.Signal, 1),
		baseCtx:    baseCtx,
		cancelConn: cancel,
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)

	jwt := authMiddleware(conf.SecretKey, s.deps.UserSvc)
	registerWebsocketAPI(s, jwt)

	v1 := s.app.Group("/v1", jwt)
	registerUserAPI(v1, s.deps.UserSvc, s.deps.Conf)
	registerNotificationAPI(v1, s.deps.NotificationSvc)
	registerMessageAPI(v1, s.deps.MessageSvc)
	registerAnnouncementAPI(v1, s.deps.AnnouncementSvc)
}

func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

// Errors reports a failure of the listener.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives OS interrupts and shutdown requests from handlers.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

// Shutdown closes the websocket connections, then stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelConn()

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.cancelConn()
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
	Groups int    `json:"groups"`
}

func (s *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Build:  s.deps.Conf.Build,
		Groups: len(s.deps.Registry.Groups()),
	})
}
