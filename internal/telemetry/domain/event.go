package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the control plane.
const (
	EventTypeHTTPRequest = "http_request"
	EventTypeAuditIntent = "audit.intent"
)

// Event is a telemetry event as written to Kafka and the OTel log pipeline. The JSON form is the
// Kafka message value; cmd/worker reads it back to build Loki labels.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
