package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"credverify/pkg/requestcontext"
)

// ClientMetadata extracts the client IP address and User-Agent from the
// request and records them on the context. The session handler reads the
// User-Agent to decide whether a wallet app link helps. Apply it early in
// the chain. No proxy is trusted, so the IP is always the socket peer.
func ClientMetadata(next http.Handler) http.Handler {
	return ClientMetadataBehind(nil)(next)
}

// ClientMetadataBehind is ClientMetadata for a deployment behind the given
// proxies. Forwarding headers are read only from a peer inside trusted.
func ClientMetadataBehind(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r, trusted), r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseTrustedProxies parses CIDR blocks or bare addresses.
func ParseTrustedProxies(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// ClientIPFromRequest returns the originating client IP. The socket address
// is authoritative unless it belongs to a trusted proxy; then X-Forwarded-For
// is walked from the nearest hop and the first untrusted address wins.
// X-Real-IP is used when a trusted proxy sends no X-Forwarded-For.
func ClientIPFromRequest(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		// X-Forwarded-For lists client, proxy1, proxy2, ...
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				// A malformed hop cannot be attributed; fall back to the peer.
				break
			}
			if !isTrusted(hop, trusted) || i == 0 {
				return hop
			}
		}
		return peer
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
