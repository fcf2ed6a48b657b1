// Package storetest holds the behaviour every store.Sessions driver must show.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Run exercises a driver. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Sessions) {
	t.Helper()

	t.Run("save and get", func(t *testing.T) { testSaveGet(t, newStore(t)) })
	t.Run("duplicate save", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("revoke once", func(t *testing.T) { testRevoke(t, newStore(t)) })
	t.Run("rotate", func(t *testing.T) { testRotate(t, newStore(t)) })
	t.Run("concurrent rotate has one winner", func(t *testing.T) { testConcurrentRotate(t, newStore(t)) })
	t.Run("delete expired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
	t.Run("ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

// Session builds a session that expires ttl from now.
func Session(hash, userID string, ttl time.Duration) domain.RefreshSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.RefreshSession{
		ID:        idx.New().String(),
		Hash:      hash,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		Meta:      map[string]string{"client_ip": "10.0.0.1"},
		CreatedAt: now,
	}
}

func testSaveGet(t *testing.T, st store.Sessions) {
	ctx := context.Background()

	_, err := st.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	want := Session("h1", "user-1", time.Hour)
	require.NoError(t, st.Save(ctx, want))

	got, err := st.Get(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, "user-1", got.UserID)
	require.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Second)
	require.Nil(t, got.RevokedAt)
	require.Empty(t, got.ReplacedBy)
	require.Equal(t, "10.0.0.1", got.Meta["client_ip"])
}

func testDuplicate(t *testing.T, st store.Sessions) {
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, Session("dup", "u", time.Hour)))
	require.ErrorIs(t, st.Save(ctx, Session("dup", "u", time.Hour)), store.ErrAlreadyExists)
}

func testRevoke(t *testing.T, st store.Sessions) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.ErrorIs(t, st.Revoke(ctx, "missing", "", now), store.ErrNotFound)

	require.NoError(t, st.Save(ctx, Session("r1", "u", time.Hour)))
	require.NoError(t, st.Revoke(ctx, "r1", "", now))
	require.ErrorIs(t, st.Revoke(ctx, "r1", "other", now), store.ErrAlreadyRevoked)

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.WithinDuration(t, now, *got.RevokedAt, time.Second)
	require.Empty(t, got.ReplacedBy, "second revoke must not overwrite the first")
}

func testRotate(t *testing.T, st store.Sessions) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Save(ctx, Session("old", "u", time.Hour)))
	require.NoError(t, st.Rotate(ctx, "old", Session("new", "u", time.Hour), now))

	old, err := st.Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	require.Equal(t, "new", old.ReplacedBy)

	next, err := st.Get(ctx, "new")
	require.NoError(t, err)
	require.Nil(t, next.RevokedAt)

	err = st.Rotate(ctx, "old", Session("newer", "u", time.Hour), now)
	require.ErrorIs(t, err, store.ErrAlreadyRevoked)
	_, err = st.Get(ctx, "newer")
	require.ErrorIs(t, err, store.ErrNotFound, "failed rotation must not leave the new session behind")

	require.ErrorIs(t, st.Rotate(ctx, "missing", Session("x", "u", time.Hour), now), store.ErrNotFound)
}

func testConcurrentRotate(t *testing.T, st store.Sessions) {
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, Session("race", "u", time.Hour)))

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
		errs      = make(chan error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := st.Rotate(ctx, "race", Session(fmt.Sprintf("race-%d", i), "u", time.Hour), time.Now())
			if err == nil {
				successes.Add(1)
				return
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, store.ErrAlreadyRevoked)
	}

	require.Equal(t, int32(1), successes.Load())
}

func testDeleteExpired(t *testing.T, st store.Sessions) {
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, Session("gone", "u", -time.Hour)))
	require.NoError(t, st.Save(ctx, Session("kept", "u", time.Hour)))

	n, err := st.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = st.Get(ctx, "gone")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, "kept")
	require.NoError(t, err)
}
