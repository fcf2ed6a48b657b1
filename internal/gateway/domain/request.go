package domain

import (
	"net/http"
	"time"
)

// RequestContext is the per-request value built once by the pipeline.
// Callers must treat it as read-only; Header is a private copy.
type RequestContext struct {
	RequestID  string
	ReceivedAt time.Time
	ClientIP   string
	Method     string
	Path       string
	Query      string
	Body       []byte
	Header     http.Header
}

// NewRequestContext copies the header map so later mutation of the inbound
// request cannot leak into the context.
func NewRequestContext(
	requestID string,
	receivedAt time.Time,
	clientIP, method, path, query string,
	body []byte,
	header http.Header,
) *RequestContext {
	return &RequestContext{
		RequestID:  requestID,
		ReceivedAt: receivedAt,
		ClientIP:   clientIP,
		Method:     method,
		Path:       path,
		Query:      query,
		Body:       body,
		Header:     header.Clone(),
	}
}
