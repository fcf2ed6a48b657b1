package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// HMACSigner signs tokens with a shared secret (HS256, HS384, HS512).
type HMACSigner struct {
	kid    string
	secret []byte
	method *jwt.SigningMethodHMAC
}

// NewSignerHMAC creates an HS* signer. The secret is copied.
func NewSignerHMAC(kid, alg string, secret []byte) (*HMACSigner, error) {
	method, err := hmacMethod(alg)
	if err != nil {
		return nil, err
	}

	s := &HMACSigner{
		kid:    kid,
		secret: append([]byte(nil), secret...),
		method: method,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HMACSigner) Alg() string { return s.method.Alg() }
func (s *HMACSigner) KID() string { return s.kid }

// Sign returns the compact serialised JWT for claims.
func (s *HMACSigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.secret)
}

// Validate rejects an empty secret. Length policy belongs to configuration,
// which knows whether it is running in development.
func (s *HMACSigner) Validate() error {
	if len(s.secret) == 0 {
		return errors.New("jwtx: empty HMAC secret")
	}
	return nil
}

func (s *HMACSigner) Verifier(opts VerifyOptions) Verifier {
	return newVerifier(s.method, s.secret, opts)
}
