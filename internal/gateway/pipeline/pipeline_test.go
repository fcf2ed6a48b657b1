package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/pipeline"
	"github.com/alialinx/mini-gateway/internal/gateway/proxy"
	"github.com/alialinx/mini-gateway/internal/gateway/router"
	"github.com/alialinx/mini-gateway/internal/gateway/service"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/memory"
	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/alialinx/mini-gateway/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var requestIDPattern = regexp.MustCompile(`^[0-9]{18}$`)

type spyForwarder struct {
	calls atomic.Int32
	next  pipeline.Forwarder
	err   error
}

func (s *spyForwarder) Request(ctx context.Context, rc *domain.RequestContext, method, url string, h http.Header, body []byte) (domain.UpstreamResponse, error) {
	s.calls.Add(1)
	if s.next == nil {
		return domain.UpstreamResponse{}, s.err
	}
	return s.next.Request(ctx, rc, method, url, h, body)
}

type harness struct {
	handler   http.Handler
	forwarder *spyForwarder
	tokens    *service.TokenService
	logs      *bytes.Buffer
}

func newHarness(t *testing.T, upstream string, cfg pipeline.Config) *harness {
	t.Helper()

	rt, err := router.New([]router.Route{
		{Name: "public", Prefix: "/public", Upstream: upstream},
		{Name: "private", Prefix: "/private", Upstream: upstream, RequireAuth: true},
	})
	require.NoError(t, err)

	signer, err := jwtx.NewSignerHMAC("test", "HS256", []byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	tokens, err := service.NewTokenService(signer, memory.NewStore(), service.TokenConfig{
		Issuer:     "mini-gateway",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Pepper:     []byte("pepper"),
	})
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	fwd := &spyForwarder{next: proxy.New(proxy.Config{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})}
	return &harness{
		handler:   pipeline.New(rt, fwd, tokens, pipeline.NewSlogLogger(logger), cfg),
		forwarder: fwd,
		tokens:    tokens,
		logs:      &logs,
	}
}

func (h *harness) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := h.tokens.IssueAccessToken(userID, nil, nil)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorEnvelope {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var env httpx.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Regexp(t, requestIDPattern, env.RequestID)
	return env
}

func TestOversizedBodyRejectedBeforeForwarding(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{MaxBodyBytes: 5 << 20})

	body := bytes.Repeat([]byte("a"), 10<<20)
	rec := h.serve(httptest.NewRequest(http.MethodPost, "/public/upload", bytes.NewReader(body)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, "payload_too_large", env.Error.Code)
	require.Equal(t, "request body is too large", env.Error.Message)
	require.Zero(t, h.forwarder.calls.Load())
}

func TestOversizedChunkedBodyRejected(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/public/upload", strings.NewReader(strings.Repeat("b", 17)))
	req.ContentLength = -1
	rec := h.serve(req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Zero(t, h.forwarder.calls.Load())
}

func TestGuardsAndRouting(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{})

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"method not allowed", httptest.NewRequest(http.MethodOptions, "/public", nil), http.StatusMethodNotAllowed, "method_not_allowed"},
		{"head not allowed", httptest.NewRequest(http.MethodHead, "/public", nil), http.StatusMethodNotAllowed, "method_not_allowed"},
		{"no route", httptest.NewRequest(http.MethodGet, "/nowhere", nil), http.StatusNotFound, "not_found"},
		{"missing bearer", httptest.NewRequest(http.MethodGet, "/private/me", nil), http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.serve(tt.req)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, decodeEnvelope(t, rec).Error.Code)
		})
	}
	require.Zero(t, h.forwarder.calls.Load())
}

func TestAuthRejectionsShareStatus(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{})

	for name, value := range map[string]string{
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not-a-token",
		"extra field":  "Bearer a b",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private/me", nil)
			req.Header.Set("Authorization", value)
			rec := h.serve(req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Equal(t, "invalid or missing credentials", decodeEnvelope(t, rec).Error.Message)
		})
	}
}

func TestAuthenticatedForwardStripsHopByHop(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello "))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("world"))
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, pipeline.Config{})

	req := httptest.NewRequest(http.MethodGet, "/private/me?x=1", nil)
	req.Header.Set("Authorization", h.bearer(t, "user-42"))
	req.Header.Set("X-User-ID", "spoofed")
	req.Header.Set("Proxy-Authorization", "secret")
	rec := h.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
	require.Empty(t, rec.Header().Get("Transfer-Encoding"))
	require.Empty(t, rec.Header().Get("Keep-Alive"))
	require.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	require.Equal(t, "11", rec.Header().Get("Content-Length"))

	require.Equal(t, []string{"user-42"}, seen.Values("X-User-ID"))
	require.Empty(t, seen.Get("Proxy-Authorization"))
	require.Regexp(t, requestIDPattern, seen.Get("X-Request-ID"))
	require.Equal(t, int32(1), h.forwarder.calls.Load())
}

func TestPublicRouteDropsClientUserID(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, pipeline.Config{})
	req := httptest.NewRequest(http.MethodDelete, "/public/item", nil)
	req.Header.Set("X-User-ID", "spoofed")
	rec := h.serve(req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, seen.Values("X-User-ID"))
}

func TestUpstreamConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	h := newHarness(t, "http://"+addr, pipeline.Config{})
	rec := h.serve(httptest.NewRequest(http.MethodGet, "/public/x", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "upstream_unavailable", decodeEnvelope(t, rec).Error.Code)

	out := lastLogLine(t, h.logs)
	require.Equal(t, "http_request_out", out["msg"])
	require.Equal(t, "WARN", out["level"])
	errAttr := out["error"].(map[string]any)
	require.Equal(t, "UpstreamConnectionError", errAttr["kind"])
}

func TestInternalErrorDetail(t *testing.T) {
	for _, expose := range []bool{false, true} {
		h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{ExposeErrorDetail: expose})
		h.forwarder.next = nil
		h.forwarder.err = errors.New("disk on fire")

		rec := h.serve(httptest.NewRequest(http.MethodGet, "/public/x", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		env := decodeEnvelope(t, rec)
		require.Equal(t, "internal_error", env.Error.Code)
		if expose {
			require.Equal(t, "disk on fire", env.Error.Message)
		} else {
			require.Equal(t, "internal server error", env.Error.Message)
		}

		out := lastLogLine(t, h.logs)
		require.Equal(t, "ERROR", out["level"])
		require.Equal(t, "disk on fire", out["error"].(map[string]any)["detail"])
	}
}

func TestRequestLogPair(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", pipeline.Config{})
	h.serve(httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	lines := strings.Split(strings.TrimSpace(h.logs.String()), "\n")
	require.Len(t, lines, 2)

	var in, out map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &in))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &out))
	require.Equal(t, "http_request_in", in["msg"])
	require.Equal(t, "http_request_out", out["msg"])
	require.Equal(t, in["req_id"], out["req_id"])
	require.Equal(t, float64(http.StatusNotFound), out["status"])
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}
