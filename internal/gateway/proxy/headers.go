package proxy

import (
	"net/http"
	"strings"
)

// hopByHop headers describe one connection and never cross the gateway.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// IsHopByHop reports whether name, in any case, is a hop-by-hop header.
func IsHopByHop(name string) bool {
	_, ok := hopByHop[strings.ToLower(name)]
	return ok
}

// SanitizeHeaders returns a copy of h without hop-by-hop headers, without
// headers the Connection header nominates, and without any name in drop
// (lowercase). Keys are compared case-insensitively, so duplicates that
// differ only in case are all removed.
func SanitizeHeaders(h http.Header, drop ...string) http.Header {
	nominated := connectionTokens(h)
	out := make(http.Header, len(h))

	for k, vv := range h {
		lk := strings.ToLower(k)
		if _, ok := hopByHop[lk]; ok {
			continue
		}
		if _, ok := nominated[lk]; ok {
			continue
		}
		if contains(drop, lk) {
			continue
		}
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], vv...)
	}
	return out
}

// connectionTokens collects the header names listed in every Connection
// header value, lowercased.
func connectionTokens(h http.Header) map[string]struct{} {
	tokens := map[string]struct{}{}
	for k, vv := range h {
		if !strings.EqualFold(k, "connection") {
			continue
		}
		for _, v := range vv {
			for _, tok := range strings.Split(v, ",") {
				if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
					tokens[tok] = struct{}{}
				}
			}
		}
	}
	return tokens
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
