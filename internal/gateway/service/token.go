package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/pkg/cryptox"
	"github.com/alialinx/mini-gateway/pkg/idx"
	"github.com/alialinx/mini-gateway/pkg/jwtx"
	"github.com/alialinx/mini-gateway/pkg/slogx"
)

// TokenConfig is fixed at startup and never read from the environment again.
type TokenConfig struct {
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Pepper keys the refresh token hash.
	Pepper []byte
	Leeway time.Duration
}

// TokenService issues, verifies and rotates credentials.
type TokenService struct {
	signer   jwtx.Signer
	verifier jwtx.Verifier
	sessions store.Sessions
	cfg      TokenConfig
	now      func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now for issuance, verification and rotation.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService fails when the signer or configuration cannot produce
// verifiable tokens; callers treat that as fatal.
func NewTokenService(signer jwtx.Signer, sessions store.Sessions, cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if signer == nil {
		return nil, errors.New("token service: signer is required")
	}
	if err := signer.Validate(); err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	if sessions == nil {
		return nil, errors.New("token service: session store is required")
	}
	if len(cfg.Pepper) == 0 {
		return nil, errors.New("token service: refresh hash pepper is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token service: token lifetimes must be positive")
	}

	s := &TokenService{
		signer:   signer,
		sessions: sessions,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.verifier = signer.Verifier(jwtx.VerifyOptions{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Leeway:   cfg.Leeway,
		Now:      s.now,
	})

	// A key that signs but cannot verify its own output is a
	// misconfiguration, not a per-request failure.
	check, _, err := s.IssueAccessToken("self-check", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("token service: sign self-check: %w", err)
	}
	if _, err := s.VerifyAccessToken(check); err != nil {
		return nil, fmt.Errorf("token service: verify self-check: %w", err)
	}
	return s, nil
}

// Ready reports whether the signer still holds usable key material.
func (s *TokenService) Ready() error { return s.signer.Validate() }

// IssueAccessToken signs an access token for userID. Nil roles or scopes are
// issued as empty lists.
func (s *TokenService) IssueAccessToken(userID string, roles, scopes []string) (string, time.Time, error) {
	claims := jwtx.NewAccessClaims(
		userID,
		nonNil(roles),
		nonNil(scopes),
		s.cfg.AccessTTL,
		s.cfg.Issuer,
		s.cfg.Audience,
		s.now().UTC(),
	)
	token, err := s.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// VerifyAccessToken never returns anything but an Unauthorized error for a
// rejected token.
func (s *TokenService) VerifyAccessToken(token string) (domain.Principal, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return domain.Principal{}, domain.Unauthorized(domain.ReasonExpired, err)
		}
		return domain.Principal{}, domain.Unauthorized(domain.ReasonInvalid, err)
	}
	if claims.Type != jwtx.TypeAccess {
		return domain.Principal{}, domain.Unauthorized(domain.ReasonWrongType, fmt.Errorf("typ %q", claims.Type))
	}
	if claims.Subject == "" {
		return domain.Principal{}, domain.Unauthorized(domain.ReasonMissingSubject, nil)
	}

	return domain.Principal{
		UserID: claims.Subject,
		Roles:  nonNil(claims.Roles),
		Scopes: nonNil(claims.Scopes),
		Claims: claims.Raw,
	}, nil
}

// ExtractBearerToken requires exactly one Authorization header of the form
// "Bearer <token>", scheme matched case-insensitively.
func (s *TokenService) ExtractBearerToken(h http.Header) (string, error) {
	values := h.Values("Authorization")
	if len(values) != 1 {
		return "", domain.Unauthorized(domain.ReasonMalformedHeader,
			fmt.Errorf("expected one authorization header, got %d", len(values)))
	}
	parts := strings.Fields(values[0])
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", domain.Unauthorized(domain.ReasonMalformedHeader, errors.New("not a bearer credential"))
	}
	return parts[1], nil
}

// IssueRefreshToken returns the raw token for the client, the keyed hash to
// store, and the expiry. Nothing is persisted.
func (s *TokenService) IssueRefreshToken() (raw, hash string, expiresAt time.Time, err error) {
	raw, err = cryptox.GenerateToken(cryptox.TokenSize512)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return raw, s.hash(raw), s.now().UTC().Add(s.cfg.RefreshTTL), nil
}

// StartSession issues a fresh pair for an authenticated caller and stores
// the refresh session.
func (s *TokenService) StartSession(
	ctx context.Context,
	userID string,
	roles, scopes []string,
	meta map[string]string,
) (domain.TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.TokenPair{}, errors.New("start session: user id is required")
	}

	raw, hash, refreshExp, err := s.IssueRefreshToken()
	if err != nil {
		return domain.TokenPair{}, err
	}
	sess := s.newSession(hash, userID, refreshExp, meta)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return domain.TokenPair{}, fmt.Errorf("save refresh session: %w", err)
	}

	access, accessExp, err := s.IssueAccessToken(userID, roles, scopes)
	if err != nil {
		return domain.TokenPair{}, err
	}

	slogx.FromContext(ctx).Info("refresh session started", slog.String("user_id", userID), slog.String("session_id", sess.ID))
	return pair(access, accessExp, raw, refreshExp), nil
}

// RotateRefreshToken exchanges an active refresh token for a new pair and
// revokes it. Presenting a token that was already rotated fails with
// Unauthorized(revoked). The new access token carries no roles or scopes.
func (s *TokenService) RotateRefreshToken(ctx context.Context, raw string, meta map[string]string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	now := s.now().UTC()

	sess, oldHash, err := s.activeSession(ctx, raw, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	newRaw, newHash, refreshExp, err := s.IssueRefreshToken()
	if err != nil {
		return domain.TokenPair{}, err
	}
	next := s.newSession(newHash, sess.UserID, refreshExp, meta)

	if err := s.sessions.Rotate(ctx, oldHash, next, now); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyRevoked):
			l.Warn("refresh token replay detected", slog.String("user_id", sess.UserID), slog.String("session_id", sess.ID))
			return domain.TokenPair{}, domain.Unauthorized(domain.ReasonRevoked, err)
		case errors.Is(err, store.ErrNotFound):
			return domain.TokenPair{}, domain.Unauthorized(domain.ReasonInvalid, err)
		default:
			return domain.TokenPair{}, fmt.Errorf("rotate refresh session: %w", err)
		}
	}

	access, accessExp, err := s.IssueAccessToken(sess.UserID, []string{}, []string{})
	if err != nil {
		return domain.TokenPair{}, err
	}

	l.Info("refresh token rotated", slog.String("user_id", sess.UserID), slog.String("session_id", next.ID))
	return pair(access, accessExp, newRaw, refreshExp), nil
}

// RevokeRefreshToken ends the session behind raw.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, raw string) error {
	now := s.now().UTC()

	sess, hash, err := s.activeSession(ctx, raw, now)
	if err != nil {
		return err
	}

	if err := s.sessions.Revoke(ctx, hash, "", now); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyRevoked):
			return domain.Unauthorized(domain.ReasonRevoked, err)
		case errors.Is(err, store.ErrNotFound):
			return domain.Unauthorized(domain.ReasonInvalid, err)
		default:
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}

	slogx.FromContext(ctx).Info("refresh session revoked", slog.String("user_id", sess.UserID), slog.String("session_id", sess.ID))
	return nil
}

// activeSession looks raw up and rejects unknown, revoked and expired sessions
// in that order.
func (s *TokenService) activeSession(ctx context.Context, raw string, now time.Time) (domain.RefreshSession, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.RefreshSession{}, "", domain.Unauthorized(domain.ReasonInvalid, errors.New("empty refresh token"))
	}
	hash := s.hash(raw)

	sess, err := s.sessions.Get(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return domain.RefreshSession{}, "", domain.Unauthorized(domain.ReasonInvalid, err)
	}
	if err != nil {
		return domain.RefreshSession{}, "", fmt.Errorf("load refresh session: %w", err)
	}

	if sess.IsRevoked() {
		slogx.FromContext(ctx).Warn("revoked refresh token presented",
			slog.String("user_id", sess.UserID),
			slog.String("session_id", sess.ID),
			slog.Bool("superseded", sess.ReplacedBy != ""),
		)
		return domain.RefreshSession{}, "", domain.Unauthorized(domain.ReasonRevoked, nil)
	}
	if sess.IsExpired(now) {
		return domain.RefreshSession{}, "", domain.Unauthorized(domain.ReasonExpired, nil)
	}
	return sess, hash, nil
}

func (s *TokenService) hash(raw string) string {
	return cryptox.KeyedHash(s.cfg.Pepper, raw)
}

func (s *TokenService) newSession(hash, userID string, expiresAt time.Time, meta map[string]string) domain.RefreshSession {
	now := s.now().UTC()
	return domain.RefreshSession{
		ID:        idx.NewAt(now).String(),
		Hash:      hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		Meta:      meta,
		CreatedAt: now,
	}
}

func pair(access string, accessExp time.Time, refresh string, refreshExp time.Time) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp.Unix(),
		TokenType:        domain.TokenTypeBearer,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
