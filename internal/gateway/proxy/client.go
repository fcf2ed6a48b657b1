// Package proxy forwards validated requests to upstream services.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

type Config struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers and, separately,
	// reading the response body.
	ReadTimeout time.Duration
}

// Client sends requests upstream. Redirects are returned, never followed.
type Client struct {
	http        *http.Client
	transport   *http.Transport
	readTimeout time.Duration
}

var errReadTimeout = errors.New("proxy: upstream read timed out")

func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		// Bodies pass through untouched; no transparent gzip.
		DisableCompression: true,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport:   transport,
		readTimeout: cfg.ReadTimeout,
	}
}

// Request forwards one request to url. Connection failures return
// domain.ErrUpstreamConnection, elapsed deadlines domain.ErrUpstreamTimeout.
// No retries.
func (c *Client) Request(
	ctx context.Context,
	rc *domain.RequestContext,
	method, url string,
	header http.Header,
	body []byte,
) (domain.UpstreamResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return domain.UpstreamResponse{}, domain.Internal(fmt.Errorf("build upstream request: %w", err))
	}
	req.Header = OutboundHeaders(header, rc.RequestID, rc.ClientIP)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.UpstreamResponse{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	timer := time.AfterFunc(c.readTimeout, func() { cancel(errReadTimeout) })
	data, err := io.ReadAll(resp.Body)
	timer.Stop()
	if err != nil {
		return domain.UpstreamResponse{}, classify(ctx, err)
	}

	return domain.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     SanitizeHeaders(resp.Header),
		Body:       data,
	}, nil
}

// CloseIdleConnections releases pooled upstream connections.
func (c *Client) CloseIdleConnections() { c.transport.CloseIdleConnections() }

// OutboundHeaders sanitizes h for the upstream leg, drops host and
// content-length, sets X-Request-ID and appends clientIP to X-Forwarded-For.
func OutboundHeaders(h http.Header, requestID, clientIP string) http.Header {
	out := SanitizeHeaders(h, "host", "content-length", "x-request-id")

	if requestID != "" {
		out.Set("X-Request-ID", requestID)
	}

	prior := out.Values("X-Forwarded-For")
	chain := make([]string, 0, len(prior)+1)
	for _, v := range prior {
		if v = strings.TrimSpace(v); v != "" {
			chain = append(chain, v)
		}
	}
	if clientIP != "" {
		chain = append(chain, clientIP)
	}
	out.Del("X-Forwarded-For")
	if len(chain) > 0 {
		out.Set("X-Forwarded-For", strings.Join(chain, ", "))
	}
	return out
}

func classify(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errReadTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return domain.UpstreamTimeout(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.UpstreamTimeout(err)
	}
	return domain.UpstreamConnection(err)
}
