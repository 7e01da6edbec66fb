// Package conversation keeps the rolling per-user conversation context used to prompt the NLU engine.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"homestack-control-plane/internal/kv"
)

const keyPrefix = "session_context:"

// Roles of a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation context.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn returns a turn stamped with the current UTC time.
func NewTurn(role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Store reads and appends context entries in a kv.Store, keeping only the last window turns.
// Each write refreshes the entry's TTL.
type Store struct {
	kv      kv.Store
	window  int
	ttl     time.Duration
	timeout time.Duration
	log     zerolog.Logger
}

// NewStore returns a Store. window is the number of turns kept; ttl is the sliding expiry;
// timeout bounds every kv call.
func NewStore(store kv.Store, window int, ttl, timeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		kv:      store,
		window:  window,
		ttl:     ttl,
		timeout: timeout,
		log:     logger.With().Str("component", "conversation").Logger(),
	}
}

// Key returns the kv key of a user's context, scoped to sessionID when it is set.
func Key(userID, sessionID string) string {
	if sessionID == "" {
		return keyPrefix + userID
	}
	return keyPrefix + userID + ":" + sessionID
}

// Get returns the stored turns, oldest first. Missing or corrupt entries read as empty;
// only a kv failure is returned as an error.
func (s *Store) Get(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	key := Key(userID, sessionID)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("conversation get: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt conversation context, treating as empty")
		return nil, nil
	}
	return turns, nil
}

// Append adds turn, trims to the window and writes the result back with a fresh TTL.
// Concurrent appends to the same key may lose one of the turns; requests for one session are sequential.
func (s *Store) Append(ctx context.Context, userID, sessionID string, turn Turn) error {
	turns, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	turns = append(turns, turn)
	if len(turns) > s.window {
		turns = turns[len(turns)-s.window:]
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.kv.Set(ctx, Key(userID, sessionID), string(payload), s.ttl); err != nil {
		return fmt.Errorf("conversation append: %w", err)
	}
	return nil
}
