package app

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/alialinx/mini-gateway/pkg/jwtx"
	"github.com/joho/godotenv"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

type Config struct {
	Env       string // dev, staging, prod (default: dev)
	LogLevel  string // debug, info, warn, error (default: info)
	LogFormat string // json, text (default: json)
	Port      int    // default: 8080

	TokenURL   string // default: /login
	RefreshURL string // default: /refresh
	RevokeURL  string // default: /logout

	MaxBodyBytes           int64
	UpstreamConnectTimeout time.Duration
	UpstreamReadTimeout    time.Duration
	RoutesFile             string // required: JSON route table

	SecretKey      string        // HS* signing secret
	Algorithm      string        // HS256, HS384, HS512, EdDSA (default: HS256)
	SigningKeyFile string        // Ed25519 PKCS8 PEM, EdDSA only
	Issuer         string        // optional iss claim
	Audience       []string      // optional aud claims, comma separated
	AccessTTL      time.Duration // TOKEN_EXPIRE minutes (default: 15)
	RefreshTTL     time.Duration // REFRESH_EXPIRE_DAYS (default: 7)
	Leeway         time.Duration

	HashPepper     string // refresh hash and password pepper
	HashPepperFile string // used when HashPepper is empty (default: ./pepper)

	IssuerUser         string
	IssuerPasswordHash string // argon2id PHC string

	SessionStore string // memory, sqlite, redis, mongo (default: memory)
	DatabaseFile string // sqlite (default: ./gateway.db)
	RedisURL     string
	MongoURI     string
	MongoDBName  string

	ShutdownGracePeriod   time.Duration // default: 10s
	HousekeepingInterval  time.Duration // default: 1h
	HousekeepingRetention time.Duration // default: 24h

	SwaggerUser string // API docs are served only when both are set
	SwaggerPass string

	StrictLimit   httpx.RateLimitConfig
	ModerateLimit httpx.RateLimitConfig
}

// LoadConfig reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		TokenURL:   getEnvOrDefault("TOKEN_URL", "/login"),
		RefreshURL: getEnvOrDefault("REFRESH_URL", "/refresh"),
		RevokeURL:  getEnvOrDefault("REVOKE_URL", "/logout"),

		MaxBodyBytes:           int64(getEnvIntOrDefault("MAX_BODY_BYTES", 5<<20)),
		UpstreamConnectTimeout: getEnvDurationOrDefault("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamReadTimeout:    getEnvDurationOrDefault("UPSTREAM_READ_TIMEOUT", 30*time.Second),
		RoutesFile:             getEnvOrDefault("ROUTES_FILE", "routes.json"),

		SecretKey:      os.Getenv("SECRET_KEY"),
		Algorithm:      getEnvOrDefault("ALGORITHM", "HS256"),
		SigningKeyFile: os.Getenv("SIGNING_KEY_FILE"),
		Issuer:         os.Getenv("JWT_ISSUER"),
		Audience:       splitList(os.Getenv("JWT_AUDIENCE")),
		AccessTTL:      time.Duration(getEnvIntOrDefault("TOKEN_EXPIRE", 15)) * time.Minute,
		RefreshTTL:     time.Duration(getEnvIntOrDefault("REFRESH_EXPIRE_DAYS", 7)) * 24 * time.Hour,
		Leeway:         getEnvDurationOrDefault("JWT_LEEWAY", 0),

		HashPepper:     os.Getenv("HASH_PEPPER"),
		HashPepperFile: getEnvOrDefault("HASH_PEPPER_FILE", "pepper"),

		IssuerUser:         os.Getenv("ISSUER_USER"),
		IssuerPasswordHash: os.Getenv("ISSUER_PASSWORD_HASH"),

		SessionStore: strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreMemory)),
		DatabaseFile: getEnvOrDefault("DATABASE_FILE", "gateway.db"),
		RedisURL:     getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		MongoURI:     getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDBName:  getEnvOrDefault("MONGO_DB_NAME", "gateway"),

		ShutdownGracePeriod:   getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval:  getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		HousekeepingRetention: getEnvDurationOrDefault("HOUSEKEEPING_RETENTION", 24*time.Hour),

		SwaggerUser: os.Getenv("SWAGGER_USER"),
		SwaggerPass: os.Getenv("SWAGGER_PASS"),

		StrictLimit:   httpx.ParseRateLimitFromEnv("STRICT", httpx.StrictLimit),
		ModerateLimit: httpx.ParseRateLimitFromEnv("MODERATE", httpx.ModerateLimit),
	}
}

// IsDev reports whether the process runs in development posture.
func (c Config) IsDev() bool { return c.Env == "dev" }

// Warnings lists settings that are accepted but unsafe outside development.
func (c Config) Warnings() []string {
	var out []string
	if c.IsDev() {
		out = append(out, "ENV=dev: internal error detail is sent to clients; set ENV for deployments")
	}
	if c.SwaggerUser != "" && c.SwaggerPass != "" && !c.IsDev() {
		out = append(out, "API docs are served outside dev")
	}
	return out
}

// Validate rejects configuration the gateway must not start with.
func (c Config) Validate() error {
	var errs []error

	switch {
	case jwtx.IsHMAC(c.Algorithm):
		if c.SecretKey == "" {
			errs = append(errs, errors.New("SECRET_KEY is required for "+c.Algorithm))
		} else if !c.IsDev() && len(c.SecretKey) < jwtx.MinHMACSecretLength {
			errs = append(errs, fmt.Errorf("SECRET_KEY must be at least %d bytes outside dev", jwtx.MinHMACSecretLength))
		}
	case strings.EqualFold(c.Algorithm, "EdDSA"):
		if c.SigningKeyFile == "" {
			errs = append(errs, errors.New("SIGNING_KEY_FILE is required for EdDSA"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ALGORITHM %q", c.Algorithm))
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_EXPIRE and REFRESH_EXPIRE_DAYS must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.UpstreamConnectTimeout <= 0 || c.UpstreamReadTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}
	if c.RoutesFile == "" {
		errs = append(errs, errors.New("ROUTES_FILE is required"))
	}
	errs = append(errs, c.validateEndpointPaths()...)
	if c.HashPepper == "" && c.HashPepperFile == "" {
		errs = append(errs, errors.New("HASH_PEPPER or HASH_PEPPER_FILE is required"))
	}
	if (c.IssuerUser == "") != (c.IssuerPasswordHash == "") {
		errs = append(errs, errors.New("ISSUER_USER and ISSUER_PASSWORD_HASH must be set together"))
	}
	if (c.SwaggerUser == "") != (c.SwaggerPass == "") {
		errs = append(errs, errors.New("SWAGGER_USER and SWAGGER_PASS must be set together"))
	}

	switch c.SessionStore {
	case StoreMemory:
		if !c.IsDev() {
			errs = append(errs, errors.New("SESSION_STORE=memory is only allowed in dev"))
		}
	case StoreSQLite, StoreRedis, StoreMongo:
	default:
		errs = append(errs, fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore))
	}

	return errors.Join(errs...)
}

// reservedPaths are served locally regardless of the token endpoint settings.
var reservedPaths = []string{"/livez", "/readyz", "/swagger"}

// validateEndpointPaths checks the token endpoint paths are distinct literal
// paths that can be registered on the local mux.
func (c Config) validateEndpointPaths() []error {
	var errs []error
	seen := map[string]string{}

	for _, ep := range []struct{ name, path string }{
		{"TOKEN_URL", c.TokenURL},
		{"REFRESH_URL", c.RefreshURL},
		{"REVOKE_URL", c.RevokeURL},
	} {
		switch {
		case !strings.HasPrefix(ep.path, "/"):
			errs = append(errs, fmt.Errorf("%s must start with /", ep.name))
			continue
		case strings.ContainsAny(ep.path, " \t{}?#%"):
			errs = append(errs, fmt.Errorf("%s %q must be a literal path", ep.name, ep.path))
			continue
		}
		for _, r := range reservedPaths {
			if ep.path == r || strings.HasPrefix(ep.path, r+"/") {
				errs = append(errs, fmt.Errorf("%s %q collides with %s", ep.name, ep.path, r))
			}
		}
		if other, ok := seen[ep.path]; ok {
			errs = append(errs, fmt.Errorf("%s repeats %s (%s)", ep.name, other, ep.path))
		}
		seen[ep.path] = ep.name
	}
	return errs
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare numbers are seconds, fractions allowed.
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 && seconds < maxSeconds {
		return time.Duration(seconds * float64(time.Second))
	}

	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
