package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/memory"
	"github.com/alialinx/mini-gateway/internal/gateway/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Sessions { return memory.NewStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	require.NoError(t, st.Save(ctx, storetest.Session("h", "u", time.Hour)))

	got, err := st.Get(ctx, "h")
	require.NoError(t, err)
	got.Meta["client_ip"] = "tampered"

	again, err := st.Get(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", again.Meta["client_ip"])
}
