package jwtx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Validate() error

	// Verifier returns a Verifier accepting tokens this signer produces.
	Verifier(opts VerifyOptions) Verifier
}

// ErrUnsupportedAlg is returned for algorithms this package does not sign with.
var ErrUnsupportedAlg = errors.New("jwtx: unsupported algorithm")

// MinHMACSecretLength is the shortest HS* secret accepted outside development.
const MinHMACSecretLength = 32

func hmacMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(alg) {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
}

// IsHMAC reports whether alg is one of the supported HS* algorithms.
func IsHMAC(alg string) bool {
	_, err := hmacMethod(alg)
	return err == nil
}
