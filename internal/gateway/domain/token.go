package domain

import "time"

// TokenTypeBearer is the token_type reported with every pair.
const TokenTypeBearer = "Bearer"

// TokenPair is what issuance and rotation return. Expiries are epoch seconds.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
	TokenType        string `json:"token_type"`
}

// RefreshSession is the stored record of one refresh token, keyed by the
// keyed hash of the raw token. The raw token is never stored.
type RefreshSession struct {
	ID         string
	Hash       string
	UserID     string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string // hash of the session that superseded this one
	Meta       map[string]string
	CreatedAt  time.Time
}

func (s RefreshSession) IsRevoked() bool { return s.RevokedAt != nil }

func (s RefreshSession) IsExpired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// IsActive reports whether the session can still be rotated or revoked.
func (s RefreshSession) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}
