package domain

import (
	"encoding/json"
	"time"
)

// Status is the outcome recorded for an intent request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// AuditLog is one intent request that passed authorization. Rows are append-only.
type AuditLog struct {
	ID           string
	RequestID    string
	UserID       string
	DeviceID     string
	InputText    string
	Intent       json.RawMessage
	ActionResult json.RawMessage
	Status       Status
	LatencyMs    int64
	LLMTokens    int
	ErrorMessage string
	CreatedAt    time.Time
}
