package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTLs. Services override these from configuration.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TypeAccess is the "typ" discriminator carried by access tokens.
const TypeAccess = "access"

// Claims are the access token claims. Roles and Scopes are not omitempty so
// that an empty list and a missing list both survive a round trip unchanged.
type Claims struct {
	jwt.RegisteredClaims

	// Type discriminates access tokens from anything else signed with the same key.
	Type string `json:"typ"`

	// Roles assigned to the subject, in issuance order.
	Roles []string `json:"roles"`

	// Scopes granted to the subject, in issuance order.
	Scopes []string `json:"scopes"`

	// Raw is the full verified claim set. Only populated by a Verifier.
	Raw map[string]any `json:"-"`
}

// NewAccessClaims builds access token claims valid from now for ttl.
func NewAccessClaims(
	subject string,
	roles, scopes []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Type:   TypeAccess,
		Roles:  roles,
		Scopes: scopes,
	}
	if len(audience) > 0 {
		c.Audience = jwt.ClaimStrings(audience)
	}
	return c
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
