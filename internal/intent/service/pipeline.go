package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"homestack-control-plane/internal/action"
	auditdomain "homestack-control-plane/internal/audit/domain"
	"homestack-control-plane/internal/conversation"
	identityservice "homestack-control-plane/internal/identity/service"
	"homestack-control-plane/internal/logging"
	"homestack-control-plane/internal/metrics"
	"homestack-control-plane/internal/nlu"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/policy/engine"
)

const instrumentationName = "homestack-control-plane/intent"

// MaxTextLength is the longest accepted utterance, in characters.
const MaxTextLength = 1000

const defaultResponse = "Done."

// Verifier checks bearer access tokens. Implemented by *identityservice.AuthService.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (*identityservice.Principal, error)
}

// ContextStore is the rolling conversation context. Implemented by *conversation.Store.
type ContextStore interface {
	Get(ctx context.Context, userID, sessionID string) ([]conversation.Turn, error)
	Append(ctx context.Context, userID, sessionID string, turn conversation.Turn) error
}

// AuditRecorder persists audit rows. Implemented by *audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, entry *auditdomain.AuditLog) error
}

// Deps are the collaborators of a Pipeline. Metrics may be nil.
type Deps struct {
	Verifier Verifier
	Policy   engine.Evaluator
	Contexts ContextStore
	NLU      nlu.Processor
	Executor action.Executor
	Audit    AuditRecorder
	Metrics  *metrics.Metrics
}

// Request is one intent submission.
type Request struct {
	// RequestID is assigned by the caller; a fresh id is generated when empty.
	RequestID   string
	AccessToken string
	UserID      string
	DeviceID    string
	Text        string
	SessionID   string
}

// Response is the result of a processed intent.
type Response struct {
	RequestID     string
	Intent        string
	EntityID      string
	Response      string
	Status        auditdomain.Status
	Confidence    float64
	LatencyMs     int64
	LowConfidence bool
}

// Pipeline runs authenticated text through authorization, context, NLU, action execution and audit.
type Pipeline struct {
	deps       Deps
	nluTimeout time.Duration
	log        zerolog.Logger
	tracer     trace.Tracer
	requests   otelmetric.Int64Counter
	now        func() time.Time
}

// NewPipeline returns a Pipeline. nluTimeout bounds each NLU call.
func NewPipeline(deps Deps, nluTimeout time.Duration, logger zerolog.Logger) *Pipeline {
	requests, err := otel.Meter(instrumentationName).Int64Counter("intent.requests",
		otelmetric.WithDescription("Intent requests by final status."))
	if err != nil {
		logger.Warn().Err(err).Msg("intent: failed to create otel counter")
	}
	return &Pipeline{
		deps:       deps,
		nluTimeout: nluTimeout,
		log:        logger.With().Str("component", "intent").Logger(),
		tracer:     otel.Tracer(instrumentationName),
		requests:   requests,
		now:        time.Now,
	}
}

// Process runs the pipeline. Authentication, authorization and validation failures happen
// before any side effect. Every request past validation writes exactly one audit row; if that
// write fails the request fails with Internal and the conversation context is left unchanged.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	start := p.now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	ctx, span := p.tracer.Start(ctx, "intent.process", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("device_id", req.DeviceID),
	))
	defer span.End()
	log := logging.WithTrace(ctx, p.log).With().Str("request_id", req.RequestID).Logger()

	principal, err := p.authenticate(ctx, req.AccessToken)
	if err != nil {
		return nil, p.fail(span, err)
	}
	if err := p.authorize(ctx, principal, req.UserID); err != nil {
		log.Warn().Str("subject", principal.UserID).Str("user_id", req.UserID).Msg("intent rejected by policy")
		return nil, p.fail(span, err)
	}
	text, err := validate(req)
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.SetAttributes(attribute.String("user_id", req.UserID))
	log = log.With().Str("user_id", req.UserID).Logger()

	history, err := p.deps.Contexts.Get(ctx, req.UserID, req.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("conversation context unavailable, continuing without it")
		history = nil
	}

	entry := &auditdomain.AuditLog{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		InputText: text,
	}

	intent, err := p.interpret(ctx, text, history)
	if err != nil {
		entry.Status = auditdomain.StatusError
		msg := "nlu unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			entry.Status = auditdomain.StatusTimeout
			msg = "nlu timeout"
		}
		log.Error().Err(err).Str("status", string(entry.Status)).Msg("nlu failed")
		return nil, p.finishFailed(ctx, span, entry, start, false, apperr.Unavailable(msg, err))
	}
	entry.LLMTokens = intent.Tokens
	entry.Intent, _ = json.Marshal(intent)

	low := p.lowConfidence(ctx, log, intent.Confidence)
	if low {
		log.Warn().Str("intent", intent.Intent).Float64("confidence", intent.Confidence).Msg("low confidence intent")
	}

	if intent.Intent != nlu.IntentUnknown {
		res, err := p.execute(ctx, req.UserID, intent)
		if err != nil {
			entry.Status = auditdomain.StatusError
			log.Error().Err(err).Str("intent", intent.Intent).Msg("action execution failed")
			return nil, p.finishFailed(ctx, span, entry, start, low, apperr.Unavailable("action execution failed", err))
		}
		entry.ActionResult, _ = json.Marshal(res)
	}

	reply := strings.TrimSpace(intent.Response)
	if reply == "" {
		reply = defaultResponse
	}

	entry.Status = auditdomain.StatusSuccess
	entry.LatencyMs = p.now().Sub(start).Milliseconds()
	if err := p.deps.Audit.Record(ctx, entry); err != nil {
		p.record(ctx, "audit_error", start, low, intent.Tokens)
		return nil, p.fail(span, apperr.Internal(err))
	}

	p.appendContext(ctx, log, req, text, reply)
	p.record(ctx, string(auditdomain.StatusSuccess), start, low, intent.Tokens)
	span.SetAttributes(
		attribute.String("intent", intent.Intent),
		attribute.Float64("confidence", intent.Confidence),
		attribute.Bool("low_confidence", low),
	)
	log.Info().Str("intent", intent.Intent).Int64("latency_ms", entry.LatencyMs).Msg("intent processed")

	return &Response{
		RequestID:     req.RequestID,
		Intent:        intent.Intent,
		EntityID:      intent.EntityID,
		Response:      reply,
		Status:        auditdomain.StatusSuccess,
		Confidence:    intent.Confidence,
		LatencyMs:     entry.LatencyMs,
		LowConfidence: low,
	}, nil
}

func (p *Pipeline) authenticate(ctx context.Context, token string) (*identityservice.Principal, error) {
	if token == "" {
		return nil, apperr.Authentication("missing or invalid authorization")
	}
	return p.deps.Verifier.VerifyAccessToken(ctx, token)
}

func (p *Pipeline) authorize(ctx context.Context, principal *identityservice.Principal, userID string) error {
	allowed, err := p.deps.Policy.AllowIntent(ctx, principal.UserID, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !allowed {
		return apperr.Authorization("not allowed to act for this user")
	}
	return nil
}

func validate(req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", apperr.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", apperr.Validation("text is too long")
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", apperr.Validation("device_id is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return "", apperr.Validation("user_id is required")
	}
	return text, nil
}

func (p *Pipeline) interpret(ctx context.Context, text string, history []conversation.Turn) (*nlu.Intent, error) {
	ctx, span := p.tracer.Start(ctx, "intent.nlu")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.nluTimeout)
	defer cancel()
	intent, err := p.deps.NLU.ProcessIntent(ctx, text, history)
	if err == nil && intent == nil {
		err = errors.New("nlu returned no intent")
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "nlu failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("tokens", intent.Tokens))
	return intent, nil
}

// lowConfidence asks the policy; an evaluation error counts as low so no action runs.
func (p *Pipeline) lowConfidence(ctx context.Context, log zerolog.Logger, confidence float64) bool {
	low, err := p.deps.Policy.LowConfidence(ctx, confidence)
	if err != nil {
		log.Error().Err(err).Msg("confidence policy failed")
		return true
	}
	return low
}

func (p *Pipeline) execute(ctx context.Context, userID string, intent *nlu.Intent) (*action.Result, error) {
	ctx, span := p.tracer.Start(ctx, "intent.execute", trace.WithAttributes(
		attribute.String("intent", intent.Intent),
		attribute.String("entity_id", intent.EntityID),
	))
	defer span.End()
	res, err := p.deps.Executor.Execute(ctx, userID, intent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
	}
	return res, err
}

// finishFailed writes the audit row of a failed request. A failed write turns the result into Internal.
func (p *Pipeline) finishFailed(ctx context.Context, span trace.Span, entry *auditdomain.AuditLog, start time.Time, low bool, cause error) error {
	entry.ErrorMessage = cause.Error()
	entry.LatencyMs = p.now().Sub(start).Milliseconds()
	if err := p.deps.Audit.Record(ctx, entry); err != nil {
		p.record(ctx, "audit_error", start, low, entry.LLMTokens)
		return p.fail(span, apperr.Internal(errors.Join(cause, err)))
	}
	p.record(ctx, string(entry.Status), start, low, entry.LLMTokens)
	return p.fail(span, cause)
}

func (p *Pipeline) appendContext(ctx context.Context, log zerolog.Logger, req Request, text, reply string) {
	if err := p.deps.Contexts.Append(ctx, req.UserID, req.SessionID, conversation.NewTurn(conversation.RoleUser, text)); err != nil {
		log.Warn().Err(err).Msg("failed to append user turn")
		return
	}
	if err := p.deps.Contexts.Append(ctx, req.UserID, req.SessionID, conversation.NewTurn(conversation.RoleAssistant, reply)); err != nil {
		log.Warn().Err(err).Msg("failed to append assistant turn")
	}
}

func (p *Pipeline) record(ctx context.Context, status string, start time.Time, low bool, tokens int) {
	p.deps.Metrics.Intent(status, p.now().Sub(start).Seconds(), low, tokens)
	if p.requests != nil {
		p.requests.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	return err
}
