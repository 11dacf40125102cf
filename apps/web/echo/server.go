// Package webapp is the server-rendered web application.
package webapp

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
)

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		DisableReqLogs bool
		DisableCSRF    bool

		Users         *user.Service
		Catalog       *catalog.Service
		Evaluations   *evaluation.Service
		Notifications *notification.Service
	}

	Server struct {
		opts     *Options
		app      *echo.Echo
		flashes  *sessions.CookieStore
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(opts *Options) (*Server, error) {
	renderer, err := newRenderer()
	if err != nil {
		return nil, errors.Wrap(err, "parsing web templates")
	}

	s := &Server{
		opts:     opts,
		app:      echo.New(),
		flashes:  newFlashStore(opts.Conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.app.Renderer = renderer
	s.setup()
	return s, nil
}

func (s *Server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = s.httpErrorHandler

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if !s.opts.DisableCSRF {
		s.app.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
			TokenLookup:    "form:" + csrfField,
			CookiePath:     "/",
			CookieHTTPOnly: true,
		}))
	}
	s.app.Use(s.loadSession)

	s.registerAuthRoutes()
	s.registerStudentRoutes()
	s.registerAccountRoutes()
	s.registerProfessorRoutes()
	s.registerAdminRoutes()
}

// Start serves HTTP until the server is shut down. Server errors are sent to Errors().
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.opts.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// signalShutdown asks main to shut the server down gracefully.
func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

func (s *Server) Shutdown(ctx context.Context) error { return s.app.Shutdown(ctx) }

func (s *Server) Close() error { return s.app.Close() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
