package httpx

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of the connection's remote address.
// Forwarding headers supplied by the client are ignored; they are not
// trustworthy at the edge.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
