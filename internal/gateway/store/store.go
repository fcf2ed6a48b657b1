package store

import (
	"context"
	"errors"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyExists  = errors.New("store: already exists")
	ErrAlreadyRevoked = errors.New("store: already revoked")
)

// Sessions persists refresh sessions keyed by token hash. Drivers (memory,
// sqlite, redis, mongo) implement it.
//
// Revoke and Rotate are compare-and-swap on the old hash: once a session is
// revoked no later call against that hash can succeed, so concurrent
// rotations of the same token see exactly one winner.
type Sessions interface {
	// Get returns ErrNotFound when no session has this hash.
	Get(ctx context.Context, hash string) (domain.RefreshSession, error)

	// Save inserts a new session. ErrAlreadyExists on a duplicate hash.
	Save(ctx context.Context, s domain.RefreshSession) error

	// Revoke marks an unrevoked session as revoked at at, pointing at
	// replacedBy (may be empty). ErrAlreadyRevoked if it was revoked already.
	Revoke(ctx context.Context, hash, replacedBy string, at time.Time) error

	// Rotate revokes oldHash in favour of next.Hash and saves next, as one
	// atomic step. Returns the same errors as Revoke for the old session.
	Rotate(ctx context.Context, oldHash string, next domain.RefreshSession, at time.Time) error

	// DeleteExpired removes sessions that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
