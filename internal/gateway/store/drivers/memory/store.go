// Package memory is a process-local session store used in development and
// tests. All state is lost on restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]domain.RefreshSession
}

var _ store.Sessions = (*Store)(nil)

func NewStore() *Store {
	return &Store{sessions: make(map[string]domain.RefreshSession)}
}

func (s *Store) Get(_ context.Context, hash string) (domain.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[hash]
	if !ok {
		return domain.RefreshSession{}, store.ErrNotFound
	}
	return clone(sess), nil
}

func (s *Store) Save(_ context.Context, sess domain.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(sess)
}

func (s *Store) Revoke(_ context.Context, hash, replacedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(hash, replacedBy, at)
}

func (s *Store) Rotate(_ context.Context, oldHash string, next domain.RefreshSession, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[next.Hash]; exists {
		return store.ErrAlreadyExists
	}
	if err := s.revokeLocked(oldHash, next.Hash, at); err != nil {
		return err
	}
	return s.saveLocked(next)
}

func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) saveLocked(sess domain.RefreshSession) error {
	if _, exists := s.sessions[sess.Hash]; exists {
		return store.ErrAlreadyExists
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.Hash] = clone(sess)
	return nil
}

func (s *Store) revokeLocked(hash, replacedBy string, at time.Time) error {
	sess, ok := s.sessions[hash]
	if !ok {
		return store.ErrNotFound
	}
	if sess.RevokedAt != nil {
		return store.ErrAlreadyRevoked
	}
	at = at.UTC()
	sess.RevokedAt = &at
	sess.ReplacedBy = replacedBy
	s.sessions[hash] = sess
	return nil
}

func clone(sess domain.RefreshSession) domain.RefreshSession {
	if sess.RevokedAt != nil {
		at := *sess.RevokedAt
		sess.RevokedAt = &at
	}
	sess.Meta = maps.Clone(sess.Meta)
	return sess
}
