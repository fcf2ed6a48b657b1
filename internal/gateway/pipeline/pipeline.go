// Package pipeline runs one inbound request through guard, route,
// authenticate, forward and respond.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/alialinx/mini-gateway/pkg/idx"
)

// UserIDHeader carries the verified subject to upstreams.
const UserIDHeader = "X-User-ID"

// DefaultMaxBodyBytes is 5 MiB.
const DefaultMaxBodyBytes int64 = 5 << 20

var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// Router must be free of side effects.
type Router interface {
	Resolve(method, path, query string) (domain.RouteMatch, bool)
}

type Forwarder interface {
	Request(ctx context.Context, rc *domain.RequestContext, method, url string, header http.Header, body []byte) (domain.UpstreamResponse, error)
}

type Authenticator interface {
	ExtractBearerToken(h http.Header) (string, error)
	VerifyAccessToken(token string) (domain.Principal, error)
}

// Logger records the ingress/egress pair. match is nil when the request
// failed before routing.
type Logger interface {
	RequestIn(ctx context.Context, rc *domain.RequestContext, match *domain.RouteMatch)
	RequestOut(ctx context.Context, rc *domain.RequestContext, status int, err error)
}

type Config struct {
	MaxBodyBytes int64
	// ExposeErrorDetail copies internal error causes into the envelope.
	// Development only.
	ExposeErrorDetail bool
}

// Pipeline is an http.Handler. It holds no per-request state.
type Pipeline struct {
	router    Router
	forwarder Forwarder
	auth      Authenticator
	logger    Logger
	cfg       Config

	newID func() string
	now   func() time.Time
}

type Option func(*Pipeline)

func WithRequestID(fn func() string) Option { return func(p *Pipeline) { p.newID = fn } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func New(router Router, forwarder Forwarder, auth Authenticator, logger Logger, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	p := &Pipeline{
		router:    router,
		forwarder: forwarder,
		auth:      auth,
		logger:    logger,
		cfg:       cfg,
		newID:     idx.NewRequestID,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rc, err := p.receive(r)
	if err != nil {
		p.logger.RequestIn(ctx, rc, nil)
		p.fail(ctx, w, rc, err)
		return
	}

	resp, err := p.handle(ctx, rc)
	if err != nil {
		p.fail(ctx, w, rc, err)
		return
	}

	h := w.Header()
	for k, vv := range resp.Header {
		h[k] = append([]string(nil), vv...)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)

	p.logger.RequestOut(ctx, rc, resp.StatusCode, nil)
}

// receive builds the request context. The body is read up to one byte past
// the limit so an oversized body is detected without buffering all of it.
// The context is always returned so failures can carry the request id.
func (p *Pipeline) receive(r *http.Request) (*domain.RequestContext, error) {
	rc := domain.NewRequestContext(
		p.newID(),
		p.now().UTC(),
		httpx.ClientIP(r),
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		nil,
		r.Header,
	)

	if r.ContentLength > p.cfg.MaxBodyBytes {
		return rc, domain.ErrPayloadTooLarge
	}
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, p.cfg.MaxBodyBytes+1))
		if err != nil {
			return rc, domain.Internal(fmt.Errorf("read request body: %w", err))
		}
		rc.Body = body
	}
	return rc, p.guard(rc)
}

func (p *Pipeline) guard(rc *domain.RequestContext) error {
	if int64(len(rc.Body)) > p.cfg.MaxBodyBytes {
		return domain.ErrPayloadTooLarge
	}
	if _, ok := allowedMethods[rc.Method]; !ok {
		return domain.ErrMethodNotAllowed
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, rc *domain.RequestContext) (domain.UpstreamResponse, error) {
	match, ok := p.router.Resolve(rc.Method, rc.Path, rc.Query)
	if !ok {
		p.logger.RequestIn(ctx, rc, nil)
		return domain.UpstreamResponse{}, domain.ErrNotFound
	}
	p.logger.RequestIn(ctx, rc, &match)

	header := rc.Header.Clone()
	header.Del(UserIDHeader)

	if match.RequireAuth {
		principal, err := p.authenticate(rc.Header)
		if err != nil {
			return domain.UpstreamResponse{}, err
		}
		header.Set(UserIDHeader, principal.UserID)
	}

	return p.forwarder.Request(ctx, rc, rc.Method, match.UpstreamURL, header, rc.Body)
}

func (p *Pipeline) authenticate(h http.Header) (domain.Principal, error) {
	if p.auth == nil {
		return domain.Principal{}, domain.Internal(errors.New("route requires auth but no authenticator is configured"))
	}
	token, err := p.auth.ExtractBearerToken(h)
	if err != nil {
		return domain.Principal{}, err
	}
	return p.auth.VerifyAccessToken(token)
}

// fail is the single place a failure becomes a response.
func (p *Pipeline) fail(ctx context.Context, w http.ResponseWriter, rc *domain.RequestContext, err error) {
	e := domain.AsError(err)
	p.logger.RequestOut(ctx, rc, e.StatusCode(), e)
	httpx.WriteError(w, e.StatusCode(), rc.RequestID, e.Code(), e.WireMessage(p.cfg.ExposeErrorDetail))
}
