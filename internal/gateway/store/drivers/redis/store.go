// Package redis stores refresh sessions as redis hashes. Mutations run as
// Lua scripts so revoke-if-active is atomic on the server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key. The braces form a cluster hash tag so
// the scripts only ever touch one slot.
const DefaultPrefix = "gateway:{sessions}:"

// DefaultRetention keeps expired sessions readable for a while so late
// presentations report expired rather than unknown.
const DefaultRetention = 24 * time.Hour

type Store struct {
	client    goredis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ store.Sessions = (*Store)(nil)

type Option func(*Store)

func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

func WithRetention(d time.Duration) Option { return func(s *Store) { s.retention = d } }

func NewStore(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix, retention: DefaultRetention}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewStore(client, opts...), nil
}

func (s *Store) key(hash string) string { return s.prefix + "s:" + hash }
func (s *Store) indexKey() string       { return s.prefix + "expiry" }

func (s *Store) Get(ctx context.Context, hash string) (domain.RefreshSession, error) {
	fields, err := s.client.HGetAll(ctx, s.key(hash)).Result()
	if err != nil {
		return domain.RefreshSession{}, err
	}
	if len(fields) == 0 {
		return domain.RefreshSession{}, store.ErrNotFound
	}
	return decode(hash, fields)
}

func (s *Store) Save(ctx context.Context, sess domain.RefreshSession) error {
	saveArgs, err := s.saveArgs(sess)
	if err != nil {
		return err
	}
	args := append([]any{saveArgs[0], saveArgs[1], sess.Hash}, saveArgs[2:]...)

	res, err := saveScript.Run(ctx, s.client, []string{s.key(sess.Hash), s.indexKey()}, args...).Int()
	if err != nil {
		return err
	}
	if res == resultSaveExisted {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Revoke(ctx context.Context, hash, replacedBy string, at time.Time) error {
	res, err := revokeScript.Run(ctx, s.client, []string{s.key(hash)}, at.UnixMilli(), replacedBy).Int()
	if err != nil {
		return err
	}
	return mapResult(res)
}

func (s *Store) Rotate(ctx context.Context, oldHash string, next domain.RefreshSession, at time.Time) error {
	saveArgs, err := s.saveArgs(next)
	if err != nil {
		return err
	}
	args := append([]any{at.UnixMilli(), next.Hash}, saveArgs...)

	keys := []string{s.key(oldHash), s.key(next.Hash), s.indexKey()}
	res, err := rotateScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return err
	}
	return mapResult(res)
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return purgeScript.Run(ctx, s.client, []string{s.indexKey()}, before.UnixMilli(), s.prefix+"s:").Int64()
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) Close() error { return s.client.Close() }

// saveArgs returns pexpireat, expiry score, then the hash field/value pairs.
func (s *Store) saveArgs(sess domain.RefreshSession) ([]any, error) {
	meta, err := json.Marshal(sess.Meta)
	if err != nil {
		return nil, fmt.Errorf("redis: encode meta: %w", err)
	}
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	args := []any{
		sess.ExpiresAt.Add(s.retention).UnixMilli(),
		sess.ExpiresAt.UnixMilli(),
		"id", sess.ID,
		"user_id", sess.UserID,
		"expires_at", sess.ExpiresAt.UnixMilli(),
		"meta", string(meta),
		"created_at", createdAt.UnixMilli(),
	}
	if sess.RevokedAt != nil {
		args = append(args, "revoked_at", sess.RevokedAt.UnixMilli(), "replaced_by", sess.ReplacedBy)
	}
	return args, nil
}

func mapResult(res int) error {
	switch res {
	case resultOK:
		return nil
	case resultRevoked:
		return store.ErrAlreadyRevoked
	case resultMissing:
		return store.ErrNotFound
	case resultNextExists:
		return store.ErrAlreadyExists
	default:
		return fmt.Errorf("redis: unexpected script result %d", res)
	}
}

func decode(hash string, f map[string]string) (domain.RefreshSession, error) {
	sess := domain.RefreshSession{
		ID:         f["id"],
		Hash:       hash,
		UserID:     f["user_id"],
		ReplacedBy: f["replaced_by"],
	}

	var err error
	if sess.ExpiresAt, err = millis(f["expires_at"]); err != nil {
		return domain.RefreshSession{}, err
	}
	if sess.CreatedAt, err = millis(f["created_at"]); err != nil {
		return domain.RefreshSession{}, err
	}
	if v, ok := f["revoked_at"]; ok {
		at, err := millis(v)
		if err != nil {
			return domain.RefreshSession{}, err
		}
		sess.RevokedAt = &at
	}
	if v := f["meta"]; v != "" {
		if err := json.Unmarshal([]byte(v), &sess.Meta); err != nil {
			return domain.RefreshSession{}, fmt.Errorf("redis: decode meta: %w", err)
		}
	}
	return sess, nil
}

func millis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: bad timestamp %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
