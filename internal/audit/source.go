package audit

import (
	"net"
	"net/http"
	"strings"
)

// SourceAddress returns the address a ward device called from. Behind the
// hospital ingress the originating hop is the first parseable entry of
// X-Forwarded-For; X-Real-IP and the socket peer are the fallbacks.
func SourceAddress(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(hop); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// parseIP drops proxy placeholders such as "unknown" and obfuscated ids.
func parseIP(value string) string {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return ""
	}
	return ip.String()
}
