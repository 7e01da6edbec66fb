// Package token holds refresh-token persistence and the revocation denylist.
package token

import (
	"context"
	"fmt"
	"time"

	"homestack-control-plane/internal/kv"
)

const denylistKeyPrefix = "token_blacklist:"

// Denylist records revoked refresh-token jtis until their natural expiry.
type Denylist struct {
	store   kv.Store
	timeout time.Duration
	now     func() time.Time
}

// NewDenylist returns a Denylist on store. Each lookup or write is bounded by timeout.
func NewDenylist(store kv.Store, timeout time.Duration) *Denylist {
	return &Denylist{store: store, timeout: timeout, now: time.Now}
}

// Add denylists jti until expiresAt. Already-expired tokens are skipped since
// signature validation rejects them anyway.
func (d *Denylist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.Set(ctx, denylistKeyPrefix+jti, "1", ttl); err != nil {
		return fmt.Errorf("denylist add: %w", err)
	}
	return nil
}

// Contains reports whether jti is denylisted.
func (d *Denylist) Contains(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, ok, err := d.store.Get(ctx, denylistKeyPrefix+jti)
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return ok, nil
}
