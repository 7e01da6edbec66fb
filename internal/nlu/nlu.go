// Package nlu defines the contract of the natural-language understanding collaborator.
package nlu

import (
	"context"
	"errors"

	"homestack-control-plane/internal/conversation"
)

// IntentUnknown is reported when the text could not be mapped to an action.
const IntentUnknown = "unknown"

// ErrUnavailable wraps transport failures and non-200 answers from the NLU backend.
var ErrUnavailable = errors.New("nlu: backend unavailable")

// Intent is the structured interpretation of one utterance.
type Intent struct {
	Intent     string                 `json:"intent"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Confidence float64                `json:"confidence"`
	Response   string                 `json:"response"`
	// Tokens is the number of model tokens consumed; not part of the JSON form.
	Tokens int `json:"-"`
}

// Unknown returns the fallback intent used when the model output cannot be interpreted.
func Unknown(response string) *Intent {
	return &Intent{Intent: IntentUnknown, Parameters: map[string]interface{}{}, Confidence: 0, Response: response}
}

// Processor turns free text plus recent conversation history into an Intent.
type Processor interface {
	ProcessIntent(ctx context.Context, text string, history []conversation.Turn) (*Intent, error)
	Health(ctx context.Context) error
}
