package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// SameHostOrigin is the upgrade policy for both websocket endpoints.
// Browsers must present an Origin matching the request host, or a
// loopback origin; non-browser clients that send no Origin pass. A
// mismatch refuses the upgrade outright.
func SameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
