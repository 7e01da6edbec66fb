// Package kv is the small key-value contract behind the token denylist and the
// session context store: get, set with a TTL, and a liveness ping.
package kv

import (
	"context"
	"time"
)

// Store is a string key-value store with per-key expiry. Get reports a missing
// or expired key as ("", false, nil); errors are reserved for store failures.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
}
