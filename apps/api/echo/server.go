package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
	sessionsvc "github.com/classnet/backend/services/session"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool

		Logger          core.Logger
		UserSvc         *user.Service
		ClassSvc        *class.Service
		EnrollmentSvc   *enrollment.Service
		AssignmentSvc   *assignment.Service
		NotificationSvc *notification.Service
		Storage         core.FileStorage
		Sessions        *sessionsvc.Store
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
		// Shutdown is signaled when an unrecoverable error occurred.
		Shutdown() <-chan struct{}
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		shutdown chan struct{}
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		shutdown: make(chan struct{}, 1),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	initJWTConfig()

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(metricsMiddleware())
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.opts.UserSvc, s.opts.Sessions)
	registerClassAPI(v1, jwt, s.opts.ClassSvc, s.opts.EnrollmentSvc, s.opts.UserSvc)
	registerEnrollmentAPI(v1, jwt, s.opts.EnrollmentSvc, s.opts.UserSvc)
	registerAssignmentAPI(v1, jwt, s.opts.AssignmentSvc, s.opts.ClassSvc, s.opts.UserSvc, s.opts.Storage)
	registerNotificationAPI(v1, jwt, s.opts.NotificationSvc)
	registerUploadAPI(v1, jwt, s.opts.UserSvc, s.opts.Storage)
}

// signalShutdown is handed to the error handler so an unrecoverable error can
// stop the server gracefully.
func (s *server) signalShutdown() {
	select {
	case s.shutdown <- struct{}{}:
	default:
	}
}

func (s *server) Shutdown() <-chan struct{} {
	return s.shutdown
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to ClassNet API!")
}
