package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db  *sql.DB
	dsn string
}

var _ store.Sessions = (*Store)(nil)

// NewStore opens the database at dsn. Writes are funnelled through a single
// connection, which also keeps ":memory:" databases shared.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const selectSession = `
SELECT id, hash, user_id, expires_at, revoked_at, replaced_by, meta, created_at
FROM refresh_sessions WHERE hash = ?`

func (s *Store) Get(ctx context.Context, hash string) (domain.RefreshSession, error) {
	var (
		r          row
		revokedAt  sql.NullInt64
		replacedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectSession, hash).Scan(
		&r.ID, &r.Hash, &r.UserID, &r.ExpiresAt, &revokedAt, &replacedBy, &r.Meta, &r.CreatedAt,
	)
	if err != nil {
		return domain.RefreshSession{}, mapNotFound(err)
	}
	r.RevokedAt = revokedAt
	r.ReplacedBy = replacedBy
	return r.session()
}

func (s *Store) Save(ctx context.Context, sess domain.RefreshSession) error {
	return insertSession(ctx, s.db, sess)
}

func (s *Store) Revoke(ctx context.Context, hash, replacedBy string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return revokeSession(ctx, tx, hash, replacedBy, at)
	})
}

func (s *Store) Rotate(ctx context.Context, oldHash string, next domain.RefreshSession, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := revokeSession(ctx, tx, oldHash, next.Hash, at); err != nil {
			return err
		}
		return insertSession(ctx, tx, next)
	})
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE expires_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSession(ctx context.Context, db execer, sess domain.RefreshSession) error {
	meta, err := json.Marshal(sess.Meta)
	if err != nil {
		return fmt.Errorf("sqlite: encode meta: %w", err)
	}
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO refresh_sessions (id, hash, user_id, expires_at, revoked_at, replaced_by, meta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Hash,
		sess.UserID,
		sess.ExpiresAt.UnixMilli(),
		mapOptionalTime(sess.RevokedAt),
		mapStringNull(sess.ReplacedBy),
		string(meta),
		createdAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// revokeSession is the compare-and-swap: the update only matches while
// revoked_at is still NULL.
func revokeSession(ctx context.Context, db execer, hash, replacedBy string, at time.Time) error {
	res, err := db.ExecContext(ctx, `
UPDATE refresh_sessions SET revoked_at = ?, replaced_by = ?
WHERE hash = ? AND revoked_at IS NULL`,
		at.UnixMilli(), mapStringNull(replacedBy), hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM refresh_sessions WHERE hash = ?`, hash).Scan(&one)
	if err != nil {
		return mapNotFound(err)
	}
	return store.ErrAlreadyRevoked
}

type row struct {
	ID         string
	Hash       string
	UserID     string
	ExpiresAt  int64
	RevokedAt  sql.NullInt64
	ReplacedBy sql.NullString
	Meta       string
	CreatedAt  int64
}

func (r row) session() (domain.RefreshSession, error) {
	var meta map[string]string
	if r.Meta != "" {
		if err := json.Unmarshal([]byte(r.Meta), &meta); err != nil {
			return domain.RefreshSession{}, fmt.Errorf("sqlite: decode meta: %w", err)
		}
	}
	return domain.RefreshSession{
		ID:         r.ID,
		Hash:       r.Hash,
		UserID:     r.UserID,
		ExpiresAt:  time.UnixMilli(r.ExpiresAt).UTC(),
		RevokedAt:  mapNullTimePtr(r.RevokedAt),
		ReplacedBy: mapNullString(r.ReplacedBy),
		Meta:       meta,
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNullTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func mapOptionalTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
