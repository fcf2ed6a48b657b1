// Package router resolves request paths to upstream routes by longest
// matching prefix.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/alialinx/mini-gateway/internal/gateway/domain"
)

// Route is one entry of the routes file.
type Route struct {
	Name        string   `json:"name"`
	Prefix      string   `json:"prefix"`
	Upstream    string   `json:"upstream"`
	Methods     []string `json:"methods,omitempty"` // empty means any
	RequireAuth bool     `json:"require_auth"`
	StripPrefix bool     `json:"strip_prefix"`
}

// Router is immutable once built and safe for concurrent use.
type Router struct {
	routes []Route
}

// New validates routes and orders them longest prefix first.
func New(routes []Route) (*Router, error) {
	out := make([]Route, 0, len(routes))
	seen := map[string]struct{}{}

	for i, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("router: route %d: prefix %q must start with /", i, r.Prefix)
		}
		if r.Prefix != "/" {
			r.Prefix = strings.TrimRight(r.Prefix, "/")
		}
		if _, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("router: duplicate prefix %q", r.Prefix)
		}
		seen[r.Prefix] = struct{}{}

		u, err := url.Parse(r.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("router: route %q: upstream %q must be an absolute http(s) URL", r.Prefix, r.Upstream)
		}
		r.Upstream = strings.TrimRight(r.Upstream, "/")

		if r.Name == "" {
			r.Name = r.Prefix
		}
		methods := make([]string, 0, len(r.Methods))
		for _, m := range r.Methods {
			methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
		}
		r.Methods = methods

		out = append(out, r)
	}

	slices.SortStableFunc(out, func(a, b Route) int { return len(b.Prefix) - len(a.Prefix) })
	return &Router{routes: out}, nil
}

// Load reads a JSON array of routes from path.
func Load(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read routes: %w", err)
	}
	var routes []Route
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("router: parse routes: %w", err)
	}
	if len(routes) == 0 {
		return nil, errors.New("router: no routes defined")
	}
	return New(routes)
}

// Routes returns a copy of the configured routes in match order.
func (rt *Router) Routes() []Route { return slices.Clone(rt.routes) }

// Resolve returns the most specific route for path that allows method.
func (rt *Router) Resolve(method, path, query string) (domain.RouteMatch, bool) {
	for _, r := range rt.routes {
		if !matchesPrefix(r.Prefix, path) {
			continue
		}
		if len(r.Methods) > 0 && !slices.Contains(r.Methods, method) {
			continue
		}
		return domain.RouteMatch{
			Name:        r.Name,
			UpstreamURL: r.target(path, query),
			RequireAuth: r.RequireAuth,
		}, true
	}
	return domain.RouteMatch{}, false
}

func (r Route) target(path, query string) string {
	if r.StripPrefix && r.Prefix != "/" {
		path = strings.TrimPrefix(path, r.Prefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}
	u := r.Upstream + path
	if query != "" {
		u += "?" + query
	}
	return u
}

// matchesPrefix matches whole path segments: /api matches /api and /api/x,
// not /apix.
func matchesPrefix(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
