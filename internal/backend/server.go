// Package backend is the reference REST backend the session agent talks to.
// It serves activities, grades attempts and stores attendance batches idempotently.
package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

// ActivityLoader resolves activity definitions (postgres, redis or memory cache).
type ActivityLoader interface {
	LoadActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

// Store persists attempts and attendance.
type Store interface {
	SaveAttempt(ctx context.Context, attempt domain.Attempt) error
	// SaveBatch reports false when the batch id was stored before; nothing is written then.
	SaveBatch(ctx context.Context, sessionID string, batch domain.AttendanceBatch) (bool, error)
	SessionRecords(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error)
}

type Options struct {
	Address        string
	Activities     ActivityLoader
	Store          Store
	Secret         string // HS256 key; empty disables auth
	MaxUploadBytes int64
	DisableReqLogs bool
	Logger         logging.Logger
	Now            func() time.Time
}

type Server struct {
	opts Options
	app  *echo.Echo
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	s := &Server{opts: opts, app: echo.New()}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.opts.Logger)

	s.app.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := s.app.Group("/api", authMiddleware(s.opts.Secret))
	api.GET("/activities/:id", s.getActivity)
	api.POST("/activities/:id/attempts", s.submitAttempt)
	api.POST("/attendance/sessions/:id/records", s.submitRecords)
	api.GET("/attendance/sessions/:id/records", s.listRecords)
	api.GET("/students/:id/qr", s.studentQR)
}

// Start blocks serving on the configured address.
func (s *Server) Start() error {
	s.opts.Logger.Infof("reference backend listening on %s", s.opts.Address)
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
