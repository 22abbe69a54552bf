package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeframe-dev/codeframe/pkg/version"
)

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// wsHealthHandler gates websocket subscription: ready only once the
// broadcaster is fully initialized.
func (s *Server) wsHealthHandler(c *echo.Context) error {
	if !s.bus.Ready() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// SystemHealthResponse is the body of GET /api/system/health.
type SystemHealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
	Pool   PoolStatus             `json:"pool"`
}

type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type PoolStatus struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
}

func (s *Server) systemHealthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]HealthCheck)

	if err := s.store.DB().PingContext(reqCtx); err != nil {
		status = "unhealthy"
		checks["database"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: "healthy"}
	}
	if s.bus.Ready() {
		checks["broadcaster"] = HealthCheck{Status: "healthy"}
	} else {
		if status == "healthy" {
			status = "degraded"
		}
		checks["broadcaster"] = HealthCheck{Status: "degraded", Message: "not started"}
	}

	health := s.pool.Health()
	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &SystemHealthResponse{
		Status: status,
		Checks: checks,
		Pool:   PoolStatus{Capacity: health.Capacity, InUse: health.InUse},
	})
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":    version.AppName,
		"commit":  version.GitCommit,
		"version": version.Full(),
	})
}
