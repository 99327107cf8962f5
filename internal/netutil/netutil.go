package netutil

import (
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

const MaxUserAgentLength = 256

// NormalizeIP returns the canonical IP of a bare address or host:port pair,
// without zone. ok is false when raw does not contain an IP.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().WithZone("").Unmap().String(), true
	}
	host := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.WithZone("").Unmap().String(), true
	}
	return raw, false
}

// ClientIP prefers the address chi's RealIP middleware already put into
// RemoteAddr and falls back to forwarding headers.
func ClientIP(r *http.Request) string {
	if ip, ok := NormalizeIP(r.RemoteAddr); ok {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, ok := NormalizeIP(strings.Split(xff, ",")[0]); ok {
			return ip
		}
	}
	return r.RemoteAddr
}

// TruncateUserAgent caps ua at MaxUserAgentLength runes for log lines.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	runes := []rune(ua)
	return string(runes[:MaxUserAgentLength])
}
