package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"homestack-control-plane/internal/audit/domain"
	auditrepo "homestack-control-plane/internal/audit/repository"
	"homestack-control-plane/internal/telemetry"
	teldomain "homestack-control-plane/internal/telemetry/domain"
)

const eventSource = "intent_pipeline"

// Recorder persists audit rows and streams them as audit.intent telemetry events.
type Recorder struct {
	repo    auditrepo.Repository
	emitter telemetry.EventEmitter
	log     zerolog.Logger
	now     func() time.Time
}

// NewRecorder returns a Recorder that persists to repo. emitter may be nil; then no events are streamed.
func NewRecorder(repo auditrepo.Repository, emitter telemetry.EventEmitter, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		emitter: emitter,
		log:     logger.With().Str("component", "audit").Logger(),
		now:     time.Now,
	}
}

// intentEventMetadata is the JSON shape stored in Event.Metadata for audit.intent events.
type intentEventMetadata struct {
	Status       domain.Status   `json:"status"`
	LatencyMs    int64           `json:"latency_ms"`
	LLMTokens    int             `json:"llm_tokens"`
	Intent       json.RawMessage `json:"intent,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Record persists entry synchronously and returns any storage error. The telemetry event is
// emitted asynchronously only after the row is stored.
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.log.Error().Err(err).Str("request_id", entry.RequestID).Msg("failed to persist audit log")
		return err
	}
	telemetry.EmitAsync(ctx, r.emitter, eventFor(entry))
	return nil
}

// List returns userID's audit rows newest first.
func (r *Recorder) List(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	return r.repo.ListByUser(ctx, userID, limit, offset)
}

func eventFor(entry *domain.AuditLog) *teldomain.Event {
	meta, _ := json.Marshal(intentEventMetadata{
		Status:       entry.Status,
		LatencyMs:    entry.LatencyMs,
		LLMTokens:    entry.LLMTokens,
		Intent:       entry.Intent,
		ErrorMessage: entry.ErrorMessage,
	})
	return &teldomain.Event{
		ID:        entry.ID,
		UserID:    entry.UserID,
		DeviceID:  entry.DeviceID,
		RequestID: entry.RequestID,
		EventType: teldomain.EventTypeAuditIntent,
		Source:    eventSource,
		Metadata:  meta,
		CreatedAt: entry.CreatedAt,
	}
}
