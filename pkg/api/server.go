// Package api exposes the HTTP surface: project lifecycle commands, state
// queries, the websocket telemetry stream, and the operational endpoints
// (health, readiness, metrics, version).
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeframe-dev/codeframe/pkg/auth"
	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/config"
	"github.com/codeframe-dev/codeframe/pkg/coordinator"
	"github.com/codeframe-dev/codeframe/pkg/metrics"
	"github.com/codeframe-dev/codeframe/pkg/pool"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// Server is the HTTP server. Commands go to the coordinator, queries to the
// store, and the push channel to the bus.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	coord    *coordinator.Coordinator
	bus      *bus.Bus
	pool     *pool.Pool
	verifier auth.Verifier

	echo *echo.Echo
	http *http.Server
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, st *store.Store, coord *coordinator.Coordinator, b *bus.Bus, p *pool.Pool, verifier auth.Verifier) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		coord:    coord,
		bus:      b,
		pool:     p,
		verifier: verifier,
	}

	e := echo.New()
	e.HTTPErrorHandler = s.errorHandler
	e.Use(securityHeaders())

	// Unauthenticated operational endpoints.
	e.GET("/health", s.healthHandler)
	e.GET("/ws/health", s.wsHealthHandler)
	e.GET("/metrics", s.metricsHandler)

	// The push channel authenticates inside the handler so a rejected token
	// gets the 1008 close code instead of a plain HTTP error.
	e.GET("/ws", s.wsHandler)

	api := e.Group("/api", s.requireAuth())

	api.POST("/projects", s.createProjectHandler)
	api.GET("/projects", s.listProjectsHandler)
	api.GET("/projects/:id", s.getProjectHandler)
	api.DELETE("/projects/:id", s.deleteProjectHandler)

	api.GET("/projects/:id/discovery/progress", s.discoveryProgressHandler)
	api.POST("/projects/:id/discovery/start", s.discoveryStartHandler)
	api.POST("/projects/:id/discovery/answer", s.discoveryAnswerHandler)
	api.POST("/projects/:id/discovery/generate-tasks", s.generateTasksHandler)

	api.GET("/projects/:id/tasks", s.listTasksHandler)
	api.POST("/projects/:id/tasks/approve", s.approveTasksHandler)
	api.POST("/projects/:id/tasks/:task_id/unblock", s.unblockTaskHandler)
	api.GET("/projects/:id/tasks/:task_id/comments", s.listTaskCommentsHandler)
	api.GET("/projects/:id/tasks/:task_id/findings", s.listFindingsHandler)

	api.GET("/projects/:id/agents", s.listAgentsHandler)
	api.GET("/projects/:id/metrics", s.projectMetricsHandler)
	api.GET("/projects/:id/events", s.listEventsHandler)
	api.POST("/projects/:id/review/complete", s.completeReviewHandler)

	api.GET("/projects/:id/checkpoints", s.listCheckpointsHandler)
	api.POST("/projects/:id/checkpoints", s.createCheckpointHandler)
	api.DELETE("/projects/:id/checkpoints/:checkpoint_id", s.deleteCheckpointHandler)
	api.GET("/projects/:id/checkpoints/:checkpoint_id/diff", s.diffCheckpointHandler)
	api.POST("/projects/:id/checkpoints/:checkpoint_id/restore", s.restoreCheckpointHandler)

	api.POST("/projects/:id/session/start", s.startSessionHandler)
	api.POST("/projects/:id/session/pause", s.pauseSessionHandler)
	api.POST("/projects/:id/session/resume", s.resumeSessionHandler)
	api.POST("/projects/:id/session/stop", s.stopSessionHandler)
	api.GET("/projects/:id/session", s.getSessionHandler)

	api.GET("/system/health", s.systemHealthHandler)
	api.GET("/system/version", s.versionHandler)

	s.echo = e
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// metricsHandler serves the Prometheus registry.
func (s *Server) metricsHandler(c *echo.Context) error {
	metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
