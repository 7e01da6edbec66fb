package domain

import "time"

// RefreshToken is the persisted half of a refresh JWT. Only the jti and expiry are stored,
// never the token itself. Once RevokedAt is set the row is permanently invalid.
type RefreshToken struct {
	ID        string
	UserID    string
	JTI       string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token may still be exchanged at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
