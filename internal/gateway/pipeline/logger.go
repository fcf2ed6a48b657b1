package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
	"github.com/alialinx/mini-gateway/pkg/slogx"
)

// SlogLogger writes http_request_in and http_request_out lines. The logger
// in the request context wins over Base when present.
type SlogLogger struct {
	Base *slog.Logger
	Now  func() time.Time
}

func NewSlogLogger(base *slog.Logger) *SlogLogger {
	return &SlogLogger{Base: base, Now: time.Now}
}

func (l *SlogLogger) logger(ctx context.Context, rc *domain.RequestContext) *slog.Logger {
	lg := l.Base
	if lg == nil {
		lg = slogx.FromContext(ctx)
	}
	return lg.With("req_id", rc.RequestID)
}

func (l *SlogLogger) RequestIn(ctx context.Context, rc *domain.RequestContext, match *domain.RouteMatch) {
	attrs := []any{
		"method", rc.Method,
		"path", rc.Path,
		"client_ip", rc.ClientIP,
	}
	if match != nil {
		attrs = append(attrs, "route", match.Name, "auth", match.RequireAuth)
	}
	l.logger(ctx, rc).InfoContext(ctx, "http_request_in", attrs...)
}

func (l *SlogLogger) RequestOut(ctx context.Context, rc *domain.RequestContext, status int, err error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	attrs := []any{
		"method", rc.Method,
		"path", rc.Path,
		"status", status,
		"duration_ms", now().Sub(rc.ReceivedAt).Milliseconds(),
	}

	level := slog.LevelInfo
	if err != nil {
		e := domain.AsError(err)
		attrs = append(attrs, "error", e)
		switch e.Kind {
		case domain.KindInternal:
			level = slog.LevelError
		case domain.KindUnauthorized, domain.KindUpstreamConnection, domain.KindUpstreamTimeout:
			level = slog.LevelWarn
		}
	}
	l.logger(ctx, rc).Log(ctx, level, "http_request_out", attrs...)
}
