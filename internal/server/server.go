package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Researcher runs research questions.
type Researcher interface {
	Run(ctx context.Context, req core.Request, sink stream.Sink, opts ...stream.Option) (core.Result, error)
	Tools() ([]capability.OrchestratorTool, error)
}

// RunStore reads persisted runs.
type RunStore interface {
	GetResearchRun(ctx context.Context, runID string) (models.ResearchRecord, bool, error)
	ListResearchRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Deps are the collaborators of a Server. Store and Redis are optional; the
// endpoints that need them answer 503 when they are missing.
type Deps struct {
	Engine Researcher
	Store  RunStore
	Redis  redis.UniversalClient
	Logger *zap.Logger
	// StreamTimeout bounds one research request.
	StreamTimeout time.Duration
}

type Server struct {
	e    *echo.Echo
	deps Deps
	log  *zap.Logger
}

// New builds the HTTP API.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.StreamTimeout <= 0 {
		deps.StreamTimeout = 10 * time.Minute
	}
	s := &Server{e: echo.New(), deps: deps, log: deps.Logger.Named("http")}
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	rh := &ResearchHandler{deps: deps, log: s.log}
	rh.Register(v1)
	return s
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.log.Warn("request failed",
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err))
	if !c.Response().Committed {
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

// HTTPError is the body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}
