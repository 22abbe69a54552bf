package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// CreateCheckpointRequest is the body of POST .../checkpoints.
type CreateCheckpointRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) createCheckpointHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req CreateCheckpointRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "name field is required")
	}
	ctx := c.Request().Context()

	project, getErr := s.store.GetProject(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	cp, createErr := s.coord.Checkpoints().Create(ctx, id, s.coord.Workspace(project), req.Name, req.Description)
	if createErr != nil {
		return mapServiceError(createErr)
	}
	return c.JSON(http.StatusCreated, cp)
}

func (s *Server) listCheckpointsHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	checkpoints, listErr := s.coord.Checkpoints().List(c.Request().Context(), id)
	if listErr != nil {
		return mapServiceError(listErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"checkpoints": checkpoints})
}

func (s *Server) deleteCheckpointHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	checkpointID, err := paramID(c, "checkpoint_id")
	if err != nil {
		return err
	}
	if delErr := s.store.DeleteCheckpoint(c.Request().Context(), id, checkpointID); delErr != nil {
		return mapServiceError(delErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) diffCheckpointHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	checkpointID, err := paramID(c, "checkpoint_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	project, getErr := s.store.GetProject(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	diff, diffErr := s.coord.Checkpoints().Diff(ctx, id, checkpointID, s.coord.Workspace(project))
	if diffErr != nil {
		return mapServiceError(diffErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"diff": diff})
}

func (s *Server) restoreCheckpointHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	checkpointID, err := paramID(c, "checkpoint_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	project, getErr := s.store.GetProject(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	cp, restoreErr := s.coord.Checkpoints().Restore(ctx, id, checkpointID, s.coord.Workspace(project))
	if restoreErr != nil {
		return mapServiceError(restoreErr)
	}
	return c.JSON(http.StatusOK, cp)
}
