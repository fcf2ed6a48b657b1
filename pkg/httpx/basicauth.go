package httpx

import (
	"crypto/subtle"
	"net/http"

	"github.com/alialinx/mini-gateway/pkg/slogx"
)

// BasicAuth rejects requests that do not carry user and pass as HTTP basic
// credentials. Both values are compared in constant time.
func BasicAuth(realm, user, pass string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
			if !ok || !userOK || !passOK {
				slogx.FromContext(r.Context()).Warn("basic auth rejected", "realm", realm, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				WriteError(w, http.StatusUnauthorized, w.Header().Get("X-Request-ID"),
					"unauthorized", "invalid or missing credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
