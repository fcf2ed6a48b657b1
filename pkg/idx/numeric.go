package idx

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RequestIDLength is the number of decimal digits in a gateway request id.
const RequestIDLength = 18

var ten = big.NewInt(10)

// NewNumeric returns a string of length uniformly random decimal digits drawn
// from crypto/rand. Leading zeros are kept so the length is always exact.
func NewNumeric(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("idx: length must be positive, got %d", length)
	}

	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("idx: read random digit: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// NewRequestID returns an 18 digit request identifier. It panics if the
// system random source fails, since no request can be served safely then.
func NewRequestID() string {
	id, err := NewNumeric(RequestIDLength)
	if err != nil {
		panic(err)
	}
	return id
}
