// Package privacy reduces client identifiers to forms safe for logs and audit
// records.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// AnonymizeIP masks an address to its network: /24 for IPv4 (including
// IPv4-mapped IPv6) and /48 for IPv6. Empty input yields "unknown" and
// unparseable input yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// RedactIdentifier renders an arbitrary source identifier for logs. IP
// addresses are anonymized; anything else is reduced to a short digest so
// user ids and emails never reach the log stream.
func RedactIdentifier(id string) string {
	if id == "" {
		return "unknown"
	}
	if _, err := netip.ParseAddr(id); err == nil {
		return AnonymizeIP(id)
	}
	sum := sha256.Sum256([]byte(id))
	return "id:" + hex.EncodeToString(sum[:6])
}
