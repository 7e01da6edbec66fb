package engine

import "context"

// Evaluator decides intent authorization and confidence policy.
type Evaluator interface {
	// AllowIntent reports whether the authenticated subject may submit an intent on behalf of userID.
	AllowIntent(ctx context.Context, subject, userID string) (bool, error)
	// LowConfidence reports whether an NLU confidence falls below the configured threshold.
	LowConfidence(ctx context.Context, confidence float64) (bool, error)
}
