package http

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/service"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/alialinx/mini-gateway/pkg/idx"
	"github.com/alialinx/mini-gateway/pkg/slogx"

	_ "github.com/alialinx/mini-gateway/api/gateway" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

const swaggerPrefix = "/swagger/"

// Config holds the paths and credentials of the locally served endpoints.
type Config struct {
	TokenURL   string
	RefreshURL string
	RevokeURL  string

	IssuerUser         string
	IssuerPasswordHash string // argon2id PHC string
	Pepper             []byte

	StrictLimit   httpx.RateLimitConfig
	ModerateLimit httpx.RateLimitConfig

	// SwaggerUser and SwaggerPass guard the API docs. Docs are not served
	// when either is empty.
	SwaggerUser string
	SwaggerPass string

	ExposeErrorDetail bool
	Version           string
}

// Router serves the token and health endpoints and hands every other
// request to the gateway pipeline.
type Router struct {
	Mux *http.ServeMux

	// endpoints holds the "METHOD /path" pairs registered on Mux.
	endpoints map[string]struct{}
	docs      bool

	cfg       Config
	tokens    *service.TokenService
	sessions  store.Sessions
	gateway   http.Handler
	logger    *slog.Logger
	startTime time.Time
}

func NewRouter(
	cfg Config,
	tokens *service.TokenService,
	sessions store.Sessions,
	gateway http.Handler,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:       http.NewServeMux(),
		endpoints: map[string]struct{}{},
		cfg:       cfg,
		tokens:    tokens,
		sessions:  sessions,
		gateway:   gateway,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ServeHTTP sends exact matches of the local endpoints to Mux and every
// other request to the gateway untouched. Mux is never consulted for proxied
// paths, so unclean paths like //x or /a/../b reach the pipeline as sent.
//
//	@title			Mini Gateway API
//	@version		0.1.0
//	@description	Locally served endpoints of the gateway: token issuance, refresh, logout and health.
//	@description	Every other path is proxied to the upstream selected by the route table.
//
//	@BasePath		/
//	@schemes		http https
//
//	@securityDefinitions.basic	IssuerBasic
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.isLocal(req) {
		r.Mux.ServeHTTP(w, req)
		return
	}
	r.gateway.ServeHTTP(w, req)
}

func (r *Router) isLocal(req *http.Request) bool {
	if _, ok := r.endpoints[req.Method+" "+req.URL.Path]; ok {
		return true
	}
	p := req.URL.Path
	return r.docs && strings.HasPrefix(p, swaggerPrefix) && isClean(p)
}

// isClean reports whether ServeMux would serve p without redirecting.
func isClean(p string) bool {
	c := path.Clean(p)
	return c == p || c+"/" == p
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerSystem()
	r.registerDocs()
}

// handle registers h on Mux for one literal method and path.
func (r *Router) handle(method, p string, h http.Handler) {
	r.Mux.Handle(method+" "+p, h)
	r.endpoints[method+" "+p] = struct{}{}
}

// local wraps a locally served handler with request logging and a per-IP
// limit. The logger must be outermost so the limiter sees the request id.
func (r *Router) local(h http.Handler, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		slogx.HTTPMiddleware(r.logger, idx.NewRequestID),
		httpx.RateLimitByIP(limit),
	)
}

func (r *Router) registerTokens() {
	// Issuance is guarded by basic auth; limit by IP and user against brute force.
	issue := &IssueHandler{
		TokenService:       r.tokens,
		IssuerUser:         r.cfg.IssuerUser,
		IssuerPasswordHash: r.cfg.IssuerPasswordHash,
		Pepper:             r.cfg.Pepper,
		ExposeErrorDetail:  r.cfg.ExposeErrorDetail,
	}
	r.handle(http.MethodPost, r.cfg.TokenURL, httpx.Chain(issue,
		slogx.HTTPMiddleware(r.logger, idx.NewRequestID),
		httpx.RateLimitByIPAndBasicUser(r.cfg.StrictLimit),
	))

	refresh := &RefreshHandler{TokenService: r.tokens, ExposeErrorDetail: r.cfg.ExposeErrorDetail}
	r.handle(http.MethodPost, r.cfg.RefreshURL, r.local(refresh, r.cfg.ModerateLimit))

	revoke := &RevokeHandler{TokenService: r.tokens, ExposeErrorDetail: r.cfg.ExposeErrorDetail}
	r.handle(http.MethodPost, r.cfg.RevokeURL, r.local(revoke, r.cfg.ModerateLimit))
}

func (r *Router) registerSystem() {
	r.handle(http.MethodGet, "/livez", LivezHandler(r.startTime, r.cfg.Version))
	r.handle(http.MethodGet, "/readyz", ReadyzHandler(r.startTime, r.cfg.Version, r.sessions, r.tokens))
}

func (r *Router) registerDocs() {
	if r.cfg.SwaggerUser == "" || r.cfg.SwaggerPass == "" {
		return
	}
	r.docs = true
	r.Mux.Handle(swaggerPrefix, httpx.Chain(httpSwagger.Handler(),
		slogx.HTTPMiddleware(r.logger, idx.NewRequestID),
		httpx.BasicAuth("api docs", r.cfg.SwaggerUser, r.cfg.SwaggerPass),
	))
}
