package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/app"
	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/pkg/cryptox"
	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) app.Config {
	t.Helper()
	t.Setenv("SECRET_KEY", strings.Repeat("s", 32))
	t.Setenv("HASH_PEPPER", "pepper")
	cfg := app.LoadConfig()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := validConfig(t)

	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "/login", cfg.TokenURL)
	require.Equal(t, "/refresh", cfg.RefreshURL)
	require.Equal(t, "/logout", cfg.RevokeURL)
	require.Equal(t, int64(5<<20), cfg.MaxBodyBytes)
	require.Equal(t, 5*time.Second, cfg.UpstreamConnectTimeout)
	require.Equal(t, 30*time.Second, cfg.UpstreamReadTimeout)
	require.Equal(t, "HS256", cfg.Algorithm)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, app.StoreMemory, cfg.SessionStore)
	require.Equal(t, httpx.StrictLimit, cfg.StrictLimit)
	require.Empty(t, cfg.Audience)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_EXPIRE", "5")
	t.Setenv("REFRESH_EXPIRE_DAYS", "1")
	t.Setenv("JWT_AUDIENCE", "api, web ,")
	t.Setenv("UPSTREAM_READ_TIMEOUT", "2")
	t.Setenv("SHUTDOWN_GRACE_PERIOD", "250ms")
	t.Setenv("SESSION_STORE", "SQLite")
	t.Setenv("RATELIMIT_STRICT_REQUESTS", "2")

	cfg := app.LoadConfig()
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
	require.Equal(t, 24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, []string{"api", "web"}, cfg.Audience)
	require.Equal(t, 2*time.Second, cfg.UpstreamReadTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.ShutdownGracePeriod)
	require.Equal(t, app.StoreSQLite, cfg.SessionStore)
	require.Equal(t, 2, cfg.StrictLimit.RequestsPerWindow)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*app.Config)
		want   string
	}{
		{"missing secret", func(c *app.Config) { c.SecretKey = "" }, "SECRET_KEY is required"},
		{"short secret in prod", func(c *app.Config) { c.Env = "prod"; c.SessionStore = app.StoreSQLite; c.SecretKey = "short" }, "at least 32 bytes"},
		{"unsupported algorithm", func(c *app.Config) { c.Algorithm = "RS256" }, "unsupported ALGORITHM"},
		{"eddsa without key", func(c *app.Config) { c.Algorithm = "EdDSA" }, "SIGNING_KEY_FILE"},
		{"zero ttl", func(c *app.Config) { c.AccessTTL = 0 }, "must be positive"},
		{"relative token url", func(c *app.Config) { c.TokenURL = "login" }, "TOKEN_URL"},
		{"repeated endpoint", func(c *app.Config) { c.RevokeURL = c.RefreshURL }, "REVOKE_URL repeats REFRESH_URL"},
		{"wildcard endpoint", func(c *app.Config) { c.TokenURL = "/login/{id}" }, "must be a literal path"},
		{"spaced endpoint", func(c *app.Config) { c.RefreshURL = "/re fresh" }, "must be a literal path"},
		{"reserved endpoint", func(c *app.Config) { c.TokenURL = "/readyz" }, "collides with /readyz"},
		{"docs endpoint", func(c *app.Config) { c.TokenURL = "/swagger/login" }, "collides with /swagger"},
		{"half swagger credentials", func(c *app.Config) { c.SwaggerUser = "docs" }, "SWAGGER_USER and SWAGGER_PASS"},
		{"half issuer credentials", func(c *app.Config) { c.IssuerUser = "admin" }, "must be set together"},
		{"memory outside dev", func(c *app.Config) { c.Env = "prod" }, "only allowed in dev"},
		{"unknown store", func(c *app.Config) { c.SessionStore = "etcd" }, "unsupported SESSION_STORE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationAcceptsFractionalSeconds(t *testing.T) {
	t.Setenv("UPSTREAM_CONNECT_TIMEOUT", "2.5")
	t.Setenv("UPSTREAM_READ_TIMEOUT", "0.25")
	t.Setenv("HOUSEKEEPING_INTERVAL", "soon")

	cfg := app.LoadConfig()
	require.Equal(t, 2500*time.Millisecond, cfg.UpstreamConnectTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.UpstreamReadTimeout)
	require.Equal(t, time.Hour, cfg.HousekeepingInterval)
}

func TestWarnings(t *testing.T) {
	cfg := validConfig(t)
	require.Len(t, cfg.Warnings(), 1)
	require.Contains(t, cfg.Warnings()[0], "ENV=dev")

	cfg.Env = "prod"
	require.Empty(t, cfg.Warnings())

	cfg.SwaggerUser, cfg.SwaggerPass = "docs", "secret"
	require.Equal(t, []string{"API docs are served outside dev"}, cfg.Warnings())
}

func TestLoadPepperFromFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.HashPepper = ""
	cfg.HashPepperFile = filepath.Join(t.TempDir(), "secrets", "pepper")

	logger := newTestLogger()
	first, err := app.LoadPepper(cfg, logger)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := app.LoadPepper(cfg, logger)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNewSigner(t *testing.T) {
	logger := newTestLogger()

	cfg := validConfig(t)
	signer, err := app.NewSigner(cfg, logger)
	require.NoError(t, err)
	require.Equal(t, "HS256", signer.Alg())

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	cfg.Algorithm = "EdDSA"
	cfg.SigningKeyFile = filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(cfg.SigningKeyFile, pemKey, 0o600))

	signer, err = app.NewSigner(cfg, logger)
	require.NoError(t, err)
	require.Equal(t, "EdDSA", signer.Alg())

	require.NoError(t, os.WriteFile(cfg.SigningKeyFile, []byte("not a key"), 0o600))
	_, err = app.NewSigner(cfg, logger)
	require.Error(t, err)
}

func TestApplicationEndToEnd(t *testing.T) {
	var seenUser string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = r.Header.Get("X-User-ID")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("orders for " + seenUser))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	routes := filepath.Join(dir, "routes.json")
	require.NoError(t, os.WriteFile(routes, []byte(`[
		{"name": "orders", "prefix": "/api/orders", "upstream": "`+upstream.URL+`", "require_auth": true}
	]`), 0o600))

	hash, err := cryptox.HashPassword("issuer-pass", []byte("pepper"))
	require.NoError(t, err)

	t.Setenv("ROUTES_FILE", routes)
	t.Setenv("ISSUER_USER", "issuer")
	t.Setenv("ISSUER_PASSWORD_HASH", hash)
	t.Setenv("SESSION_STORE", "sqlite")
	t.Setenv("DATABASE_FILE", filepath.Join(dir, "gateway.db"))
	t.Setenv("LOG_LEVEL", "error")
	cfg := validConfig(t)

	application, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })
	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/login", strings.NewReader(`{"user_id":"user-7"}`))
	require.NoError(t, err)
	req.SetBasicAuth("issuer", "issuer-pass")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair domain.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/orders/1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "user-7", seenUser)

	resp, err = http.Get(srv.URL + "/api/orders/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
