package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsWriteTimeout bounds one frame write to a client.
const wsWriteTimeout = 10 * time.Second

// wsHandler upgrades the connection and streams bus frames for one project.
// Auth happens after the upgrade so a rejected token can be reported with the
// 1008 close code instead of a plain HTTP error.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	token := bearerToken(c.Request())
	if token == "" {
		token = c.QueryParam("token")
	}
	if _, err := s.verifier.Verify(token); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "invalid or missing token")
		return nil
	}

	projectID, err := strconv.ParseInt(c.QueryParam("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		conn.Close(websocket.StatusUnsupportedData, "project_id is required")
		return nil
	}
	if _, err := s.store.GetProject(c.Request().Context(), projectID); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "unknown project")
		return nil
	}

	s.streamFrames(c.Request().Context(), conn, projectID)
	return nil
}

// streamFrames pumps bus frames to the client until either side closes.
// No replay: the subscription starts at "now" and late joiners reconcile
// over the query endpoints.
func (s *Server) streamFrames(parentCtx context.Context, conn *websocket.Conn, projectID int64) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sub := s.bus.Subscribe(projectID)
	defer s.bus.Unsubscribe(sub)

	slog.Info("Telemetry subscriber attached", "project_id", projectID, "subscriber_id", sub.ID)

	// Read loop only detects client close; inbound frames are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame, ok := <-sub.C():
			if !ok {
				// Evicted as a slow consumer; the client reconnects and
				// reconciles over the query API.
				conn.Close(websocket.StatusTryAgainLater, "subscriber evicted")
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				slog.Error("Failed to marshal frame", "type", frame.Type, "error", err)
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}
