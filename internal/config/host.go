package config

import (
	"net"
	"strings"
)

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// NormalizeHost turns a --host value into a base URL. Loopback hosts
// default to http, everything else to https. Full URLs pass through.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return NormalizeBaseURL(host)
	}
	if IsLocalhost(host) {
		return NormalizeBaseURL("http://" + host)
	}
	return NormalizeBaseURL("https://" + host)
}

// IsLocalhost reports whether host (optionally with a port) is a loopback
// name or address.
func IsLocalhost(host string) bool {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, "["), "]")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}

	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return true
	}
	ip := net.ParseIP(name)
	return ip != nil && ip.IsLoopback()
}
