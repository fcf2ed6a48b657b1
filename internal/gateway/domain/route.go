package domain

import "net/http"

// RouteMatch is the router's answer for one request.
type RouteMatch struct {
	Name        string
	UpstreamURL string
	RequireAuth bool
}

// UpstreamResponse is an upstream reply with hop-by-hop headers removed.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
