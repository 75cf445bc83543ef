// Package metadata resolves who is calling: client IP (honoring forwarding
// headers only from trusted proxies), User-Agent, and an optional device
// fingerprint, all stored on the request context.
package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"aegis/pkg/requestcontext"
)

// MaxForwardedHeaderLength caps X-Forwarded-For and X-Real-IP values.
const MaxForwardedHeaderLength = 500

// FingerprintFunc derives a device fingerprint from request headers.
type FingerprintFunc func(r *http.Request) string

type Middleware struct {
	trusted     []netip.Prefix
	fingerprint FingerprintFunc
}

type Option func(*Middleware)

// WithTrustedProxies lists the CIDRs allowed to set forwarding headers. With
// none, forwarding headers are ignored.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(m *Middleware) {
		m.trusted = append(m.trusted, prefixes...)
	}
}

// WithFingerprint computes a device fingerprint for every request.
func WithFingerprint(fn FingerprintFunc) Option {
	return func(m *Middleware) {
		m.fingerprint = fn
	}
}

func New(opts ...Option) *Middleware {
	m := &Middleware{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ParseTrustedProxies parses CIDR strings, skipping invalid entries. Bare
// addresses are treated as single-host prefixes.
func ParseTrustedProxies(cidrs []string) []netip.Prefix {
	var out []netip.Prefix
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if p, err := netip.ParsePrefix(c); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(c); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), m.clientIP(r), r.Header.Get("User-Agent"))
		if m.fingerprint != nil {
			if fp := m.fingerprint(r); fp != "" {
				ctx = requestcontext.WithDeviceFingerprint(ctx, fp)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) clientIP(r *http.Request) string {
	remote, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !m.isTrusted(remote) {
		return remote.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if len(xff) > MaxForwardedHeaderLength {
			return remote.String()
		}
		first, _, _ := strings.Cut(xff, ",")
		if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return a.Unmap().String()
		}
		return remote.String()
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && len(xri) <= MaxForwardedHeaderLength {
		if a, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return a.Unmap().String()
		}
	}
	return remote.String()
}

func (m *Middleware) isTrusted(a netip.Addr) bool {
	for _, p := range m.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func remoteAddr(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}
