package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) getSessionHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sess, getErr := s.store.ActiveSession(c.Request().Context(), id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) startSessionHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sess, startErr := s.coord.StartSession(c.Request().Context(), id)
	if startErr != nil {
		return mapServiceError(startErr)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) pauseSessionHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sess, pauseErr := s.coord.PauseSession(c.Request().Context(), id)
	if pauseErr != nil {
		return mapServiceError(pauseErr)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) resumeSessionHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	sess, resumeErr := s.coord.ResumeSession(c.Request().Context(), id)
	if resumeErr != nil {
		return mapServiceError(resumeErr)
	}
	return c.JSON(http.StatusOK, sess)
}

// StopSessionRequest optionally carries a stop reason.
type StopSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) stopSessionHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req StopSessionRequest
	_ = c.Bind(&req) // empty body allowed

	reason := req.Reason
	if reason == "" {
		reason = "stopped by operator"
	}
	sess, stopErr := s.coord.StopSession(c.Request().Context(), id, reason)
	if stopErr != nil {
		return mapServiceError(stopErr)
	}
	return c.JSON(http.StatusOK, sess)
}
