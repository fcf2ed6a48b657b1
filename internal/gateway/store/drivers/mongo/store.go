// Package mongo stores refresh sessions in a MongoDB collection keyed by
// token hash.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultCollection = "refresh_sessions"

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ store.Sessions = (*Store)(nil)

type document struct {
	Hash       string            `bson:"_id"`
	ID         string            `bson:"session_id"`
	UserID     string            `bson:"user_id"`
	ExpiresAt  time.Time         `bson:"expires_at"`
	RevokedAt  *time.Time        `bson:"revoked_at,omitempty"`
	ReplacedBy string            `bson:"replaced_by,omitempty"`
	Meta       map[string]string `bson:"meta,omitempty"`
	CreatedAt  time.Time         `bson:"created_at"`
}

// Open connects to uri, pings, and prepares the collection in database db.
func Open(ctx context.Context, uri, db, collection string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{client: client, coll: client.Database(db).Collection(collection)}
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes used by lookups and the purge.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string) (domain.RefreshSession, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": hash}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.RefreshSession{}, store.ErrNotFound
	}
	if err != nil {
		return domain.RefreshSession{}, err
	}
	return doc.session(), nil
}

func (s *Store) Save(ctx context.Context, sess domain.RefreshSession) error {
	_, err := s.coll.InsertOne(ctx, newDocument(sess))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// Revoke matches only while revoked_at is unset, which makes the update a
// compare-and-swap on the document.
func (s *Store) Revoke(ctx context.Context, hash, replacedBy string, at time.Time) error {
	set := bson.M{"revoked_at": at.UTC()}
	if replacedBy != "" {
		set["replaced_by"] = replacedBy
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": hash, "revoked_at": nil},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": hash})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrAlreadyRevoked
}

// Rotate revokes first; that update is the serialization point. If the
// insert then fails the revoke is undone, guarded on the pointer this call
// wrote, so a standalone server without transactions keeps the contract.
func (s *Store) Rotate(ctx context.Context, oldHash string, next domain.RefreshSession, at time.Time) error {
	if err := s.Revoke(ctx, oldHash, next.Hash, at); err != nil {
		return err
	}

	saveErr := s.Save(ctx, next)
	if saveErr == nil {
		return nil
	}

	_, err := s.coll.UpdateOne(context.WithoutCancel(ctx),
		bson.M{"_id": oldHash, "replaced_by": next.Hash},
		bson.M{"$unset": bson.M{"revoked_at": "", "replaced_by": ""}},
	)
	if err != nil {
		return errors.Join(saveErr, fmt.Errorf("mongo: undo revoke: %w", err))
	}
	return saveErr
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error { return s.client.Disconnect(context.Background()) }

func newDocument(sess domain.RefreshSession) document {
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return document{
		Hash:       sess.Hash,
		ID:         sess.ID,
		UserID:     sess.UserID,
		ExpiresAt:  sess.ExpiresAt.UTC(),
		RevokedAt:  sess.RevokedAt,
		ReplacedBy: sess.ReplacedBy,
		Meta:       sess.Meta,
		CreatedAt:  createdAt.UTC(),
	}
}

func (d document) session() domain.RefreshSession {
	var revokedAt *time.Time
	if d.RevokedAt != nil {
		at := d.RevokedAt.UTC()
		revokedAt = &at
	}
	return domain.RefreshSession{
		ID:         d.ID,
		Hash:       d.Hash,
		UserID:     d.UserID,
		ExpiresAt:  d.ExpiresAt.UTC(),
		RevokedAt:  revokedAt,
		ReplacedBy: d.ReplacedBy,
		Meta:       d.Meta,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}
