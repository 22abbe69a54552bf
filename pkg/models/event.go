package models

import (
	"encoding/json"
	"time"
)

// Event is one append-only audit/telemetry record. Payload is opaque JSON;
// the typed shapes live in pkg/events.
type Event struct {
	ID        int64           `json:"id"`
	ProjectID int64           `json:"project_id"`
	SessionID int64           `json:"session_id,omitempty"`
	TS        time.Time       `json:"ts"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}
