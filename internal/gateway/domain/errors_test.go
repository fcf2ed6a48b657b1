package domain_test

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/stretchr/testify/require"
)

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err    *domain.Error
		status int
		code   string
	}{
		{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{domain.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method_not_allowed"},
		{domain.ErrTokenRevoked, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrMalformedHeader, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrUpstreamConnection, http.StatusBadGateway, "upstream_unavailable"},
		{domain.ErrUpstreamTimeout, http.StatusGatewayTimeout, "upstream_timeout"},
		{domain.ErrInternal, http.StatusInternalServerError, "internal_error"},
		{domain.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			require.Equal(t, tt.status, tt.err.StatusCode())
			require.Equal(t, tt.code, tt.err.Code())
		})
	}
	require.Equal(t, "request body is too large", domain.ErrPayloadTooLarge.Message)
}

func TestErrorIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("verify: %w", domain.Unauthorized(domain.ReasonExpired, errors.New("exp passed")))

	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
	require.NotErrorIs(t, err, domain.ErrTokenInvalid)
	require.NotErrorIs(t, err, domain.ErrInternal)
}

func TestAsError(t *testing.T) {
	t.Run("keeps tagged errors", func(t *testing.T) {
		e := domain.AsError(fmt.Errorf("wrapped: %w", domain.UpstreamTimeout(nil)))
		require.Equal(t, domain.KindUpstreamTimeout, e.Kind)
	})

	t.Run("unclassified becomes internal", func(t *testing.T) {
		cause := errors.New("boom: db password is hunter2")
		e := domain.AsError(cause)
		require.Equal(t, domain.KindInternal, e.Kind)
		require.ErrorIs(t, e, cause)
		require.Equal(t, "internal server error", e.WireMessage(false))
		require.Equal(t, cause.Error(), e.WireMessage(true))
	})

	t.Run("non internal never exposes cause", func(t *testing.T) {
		e := domain.Unauthorized(domain.ReasonInvalid, errors.New("signature mismatch"))
		require.Equal(t, e.Message, e.WireMessage(true))
	})
}

func TestRefreshSessionState(t *testing.T) {
	now := time.Now()
	s := domain.RefreshSession{ExpiresAt: now.Add(time.Hour)}
	require.True(t, s.IsActive(now))

	require.False(t, s.IsActive(now.Add(time.Hour)))

	s.RevokedAt = &now
	require.True(t, s.IsRevoked())
	require.False(t, s.IsActive(now))
}

func TestErrorLogValue(t *testing.T) {
	v := domain.Unauthorized(domain.ReasonExpired, errors.New("exp passed")).LogValue()
	require.Equal(t, slog.KindGroup, v.Kind())

	got := map[string]string{}
	for _, a := range v.Group() {
		got[a.Key] = a.Value.String()
	}
	require.Equal(t, map[string]string{
		"kind":   "Unauthorized",
		"reason": "expired",
		"detail": "exp passed",
	}, got)

	require.Len(t, domain.ErrNotFound.LogValue().Group(), 1)
}
