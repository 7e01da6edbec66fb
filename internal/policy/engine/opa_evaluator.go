package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	allowQuery         = "data.homestack.intent.allow"
	lowConfidenceQuery = "data.homestack.intent.low_confidence"
)

// DefaultPolicy authorizes a subject only for its own user id and flags confidence below input.threshold.
const DefaultPolicy = `package homestack.intent

default allow := false

allow if {
	input.subject != ""
	input.subject == input.user_id
}

default low_confidence := false

low_confidence if {
	input.confidence < input.threshold
}
`

// OPAEvaluator evaluates the intent policy with prepared OPA Rego queries.
type OPAEvaluator struct {
	allow     rego.PreparedEvalQuery
	low       rego.PreparedEvalQuery
	threshold float64
}

// NewOPAEvaluator compiles DefaultPolicy.
func NewOPAEvaluator(ctx context.Context, threshold float64) (*OPAEvaluator, error) {
	return NewOPAEvaluatorWithPolicy(ctx, DefaultPolicy, threshold)
}

// NewOPAEvaluatorWithPolicy compiles policy, which must define package homestack.intent with
// boolean rules allow and low_confidence.
func NewOPAEvaluatorWithPolicy(ctx context.Context, policy string, threshold float64) (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{"intent.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile intent policy: %w", err)
	}
	allow, err := rego.New(rego.Query(allowQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", allowQuery, err)
	}
	low, err := rego.New(rego.Query(lowConfidenceQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", lowConfidenceQuery, err)
	}
	return &OPAEvaluator{allow: allow, low: low, threshold: threshold}, nil
}

// AllowIntent implements Evaluator.
func (e *OPAEvaluator) AllowIntent(ctx context.Context, subject, userID string) (bool, error) {
	return evalBool(ctx, e.allow, map[string]interface{}{
		"subject": subject,
		"user_id": userID,
	})
}

// LowConfidence implements Evaluator.
func (e *OPAEvaluator) LowConfidence(ctx context.Context, confidence float64) (bool, error) {
	return evalBool(ctx, e.low, map[string]interface{}{
		"confidence": confidence,
		"threshold":  e.threshold,
	})
}

// HealthCheck evaluates both rules against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.AllowIntent(ctx, "", ""); err != nil {
		return err
	}
	if _, err := e.LowConfidence(ctx, 1); err != nil {
		return err
	}
	return nil
}

func evalBool(ctx context.Context, q rego.PreparedEvalQuery, input map[string]interface{}) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy query returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
