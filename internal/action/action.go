// Package action defines the home-automation executor contract and its no-op driver.
package action

import (
	"context"
	"encoding/json"

	"homestack-control-plane/internal/nlu"
)

// Result describes what an executor did for an intent.
type Result struct {
	Executed bool            `json:"executed"`
	Domain   string          `json:"domain,omitempty"`
	Service  string          `json:"service,omitempty"`
	EntityID string          `json:"entity_id,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Executor carries out an intent against the user's automation runtime.
// Intents it cannot map are reported in Result.Reason, not as errors.
type Executor interface {
	Execute(ctx context.Context, userID string, intent *nlu.Intent) (*Result, error)
}

// Noop accepts every intent without side effects.
type Noop struct{}

// Execute implements Executor.
func (Noop) Execute(_ context.Context, _ string, intent *nlu.Intent) (*Result, error) {
	return &Result{Executed: false, EntityID: intent.EntityID, Reason: "no executor configured"}, nil
}
