package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/service"
	"github.com/alialinx/mini-gateway/pkg/cryptox"
	"github.com/alialinx/mini-gateway/pkg/httpx"
	"github.com/alialinx/mini-gateway/pkg/slogx"
)

const maxTokenRequestBytes = 64 << 10

type IssueRequest struct {
	UserID string            `json:"user_id"`
	Roles  []string          `json:"roles"`
	Scopes []string          `json:"scopes"`
	Meta   map[string]string `json:"meta"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// IssueHandler serves POST {TOKEN_URL}. The caller authenticates with HTTP
// basic auth as the configured issuer and names the identity to issue for.
type IssueHandler struct {
	TokenService       *service.TokenService
	IssuerUser         string
	IssuerPasswordHash string
	Pepper             []byte
	ExposeErrorDetail  bool
}

// ServeHTTP godoc
//
//	@Summary		Issue a token pair
//	@Description	Starts a refresh session for user_id and returns an access and refresh token.
//	@Description	The caller authenticates as the configured issuer with HTTP basic auth.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IssueRequest			true	"Identity to issue for"
//	@Success		200		{object}	domain.TokenPair
//	@Failure		400		{object}	httpx.ErrorEnvelope	"Bad Request"
//	@Failure		401		{object}	httpx.ErrorEnvelope	"Unauthorized"
//	@Failure		413		{object}	httpx.ErrorEnvelope	"Payload Too Large"
//	@Failure		429		{object}	httpx.ErrorEnvelope	"Too Many Requests"
//	@Security		IssuerBasic
//	@Router			/login [post]
func (h *IssueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.authenticate(r); err != nil {
		slogx.FromContext(ctx).Warn("issuer authentication failed", slog.Any("error", err))
		w.Header().Set("WWW-Authenticate", `Basic realm="token issuance"`)
		writeError(w, err, h.ExposeErrorDetail)
		return
	}

	var req IssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.ExposeErrorDetail)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, domain.BadRequest(errors.New("user_id is required")), h.ExposeErrorDetail)
		return
	}

	meta := requestMeta(r, req.Meta)
	pair, err := h.TokenService.StartSession(ctx, req.UserID, req.Roles, req.Scopes, meta)
	if err != nil {
		slogx.FromContext(ctx).Error("issue tokens failed", slog.Any("error", err))
		writeError(w, err, h.ExposeErrorDetail)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *IssueHandler) authenticate(r *http.Request) error {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return domain.Unauthorized(domain.ReasonMalformedHeader, errors.New("missing basic credentials"))
	}
	if h.IssuerUser == "" || h.IssuerPasswordHash == "" {
		return domain.Unauthorized(domain.ReasonInvalid, errors.New("issuance credentials are not configured"))
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(h.IssuerUser)) != 1 {
		return domain.Unauthorized(domain.ReasonInvalid, errors.New("unknown issuer user"))
	}
	if err := cryptox.VerifyPassword(pass, h.Pepper, h.IssuerPasswordHash); err != nil {
		return domain.Unauthorized(domain.ReasonInvalid, err)
	}
	return nil
}

// RefreshHandler serves POST {REFRESH_URL}.
type RefreshHandler struct {
	TokenService      *service.TokenService
	ExposeErrorDetail bool
}

// ServeHTTP godoc
//
//	@Summary		Rotate a refresh token
//	@Description	Revokes the presented refresh token and returns a new pair. A replayed token is rejected.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RefreshRequest		true	"Refresh token"
//	@Success		200		{object}	domain.TokenPair
//	@Failure		400		{object}	httpx.ErrorEnvelope	"Bad Request"
//	@Failure		401		{object}	httpx.ErrorEnvelope	"Unauthorized"
//	@Failure		429		{object}	httpx.ErrorEnvelope	"Too Many Requests"
//	@Router			/refresh [post]
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.ExposeErrorDetail)
		return
	}

	pair, err := h.TokenService.RotateRefreshToken(r.Context(), req.RefreshToken, requestMeta(r, nil))
	if err != nil {
		writeError(w, err, h.ExposeErrorDetail)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// RevokeHandler serves POST {REVOKE_URL}. Unknown and already revoked
// tokens are reported as 401.
type RevokeHandler struct {
	TokenService      *service.TokenService
	ExposeErrorDetail bool
}

// ServeHTTP godoc
//
//	@Summary		Revoke a refresh token
//	@Description	Ends the session of the presented refresh token.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body	RefreshRequest		true	"Refresh token"
//	@Success		204
//	@Failure		400		{object}	httpx.ErrorEnvelope	"Bad Request"
//	@Failure		401		{object}	httpx.ErrorEnvelope	"Unauthorized"
//	@Failure		429		{object}	httpx.ErrorEnvelope	"Too Many Requests"
//	@Router			/logout [post]
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.ExposeErrorDetail)
		return
	}

	if err := h.TokenService.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err, h.ExposeErrorDetail)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return domain.BadRequest(fmt.Errorf("unsupported content type %q", ct))
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrPayloadTooLarge
		}
		return domain.BadRequest(err)
	}
	return nil
}

// requestMeta records where a session was created or rotated. Client supplied
// values never overwrite the observed ones.
func requestMeta(r *http.Request, extra map[string]string) map[string]string {
	meta := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		meta[k] = v
	}
	meta["client_ip"] = httpx.ClientIP(r)
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	return meta
}

// writeError renders err as the gateway envelope, using the request id set
// by the logging middleware.
func writeError(w http.ResponseWriter, err error, exposeDetail bool) {
	e := domain.AsError(err)
	httpx.WriteError(w, e.StatusCode(), w.Header().Get("X-Request-ID"), e.Code(), e.WireMessage(exposeDetail))
}
