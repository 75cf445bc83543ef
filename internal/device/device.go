// Package device derives device fingerprints from client characteristics and
// compares them with drift tolerance.
//
// A Fingerprint has two forms. Descriptor is the normalized, human-readable
// attribute string that sessions store and compare with Similarity; Digest is
// its fixed-length SHA-256 form, used where only identity matters (rate-limit
// keys, audit subjects).
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

const (
	// MaxLength caps fingerprint strings before comparison so the quadratic
	// edit distance stays bounded.
	MaxLength = 512

	// MatchThreshold is the minimum similarity for two fingerprints to be
	// the same device.
	MatchThreshold = 0.8

	unknown = "unknown"
)

// Client hint headers a browser client may send alongside the request.
const (
	HeaderTimezone = "X-Client-Timezone"
	HeaderScreen   = "X-Client-Screen"
	HeaderPlatform = "Sec-CH-UA-Platform"
)

// Attributes are the environment characteristics a fingerprint is built
// from. IP address is deliberately absent; it changes too often.
type Attributes struct {
	UserAgent      string
	AcceptLanguage string
	Timezone       string
	Screen         string
	Platform       string
}

type Fingerprint struct {
	Descriptor string
	Digest     string
}

// AttributesFromRequest reads fingerprint inputs from request headers.
func AttributesFromRequest(r *http.Request) Attributes {
	return Attributes{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Timezone:       r.Header.Get(HeaderTimezone),
		Screen:         r.Header.Get(HeaderScreen),
		Platform:       strings.Trim(r.Header.Get(HeaderPlatform), `"`),
	}
}

// Generate builds a fingerprint. Only the browser's major version is
// included so routine updates do not move the descriptor.
func Generate(a Attributes) Fingerprint {
	ua := useragent.New(a.UserAgent)
	browser, version := ua.Browser()

	formFactor := "desktop"
	if ua.Mobile() {
		formFactor = "mobile"
	}
	platform := a.Platform
	if platform == "" {
		platform = ua.Platform()
	}

	descriptor := strings.Join([]string{
		normalize(browser),
		majorVersion(version),
		normalize(ua.OS()),
		normalize(platform),
		formFactor,
		primaryLanguage(a.AcceptLanguage),
		normalize(a.Timezone),
		normalize(a.Screen),
	}, "|")
	descriptor = Truncate(descriptor)

	sum := sha256.Sum256([]byte(descriptor))
	return Fingerprint{Descriptor: descriptor, Digest: hex.EncodeToString(sum[:])}
}

// FromRequest is Generate over AttributesFromRequest.
func FromRequest(r *http.Request) Fingerprint {
	return Generate(AttributesFromRequest(r))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return unknown
	}
	return strings.ReplaceAll(s, "|", "/")
}

func majorVersion(version string) string {
	major, _, _ := strings.Cut(version, ".")
	if major == "" {
		return unknown
	}
	return major
}

// primaryLanguage keeps the first tag of an Accept-Language header,
// without its quality value.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return normalize(tag)
}

// ParseUserAgent renders a display name such as "Chrome on macOS".
func ParseUserAgent(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
