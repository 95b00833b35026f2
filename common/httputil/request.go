package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from request headers.
// Headers are checked in this order:
//  1. CF-Connecting-IP (set by the edge proxy)
//  2. X-Forwarded-For (first/client IP of the comma-separated list)
//  3. X-Real-IP
//  4. RemoteAddr
//
// The port is stripped and the result is empty when no parseable IP is found.
func GetClientIP(r *http.Request) string {
	candidates := []string{r.Header.Get("CF-Connecting-IP")}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		candidates = append(candidates, first)
	}
	candidates = append(candidates, r.Header.Get("X-Real-IP"), r.RemoteAddr)

	for _, c := range candidates {
		if ip := parseIP(strings.TrimSpace(c)); ip != "" {
			return ip
		}
	}
	return ""
}

func parseIP(s string) string {
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip := net.ParseIP(strings.Trim(s, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// QueryOrHeader returns the header value when set, otherwise the query parameter.
func QueryOrHeader(r *http.Request, header, param string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(param))
}
