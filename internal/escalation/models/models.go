package models

import (
	"net/url"
	"strings"
	"time"

	"aegis/internal/threat"
)

// Tier is the escalation response chosen for a violation.
type Tier string

const (
	TierLog      Tier = "log"
	TierAlert    Tier = "alert"
	TierBlock    Tier = "block"
	TierShutdown Tier = "shutdown"
)

func (t Tier) rank() int {
	switch t {
	case TierShutdown:
		return 3
	case TierBlock:
		return 2
	case TierAlert:
		return 1
	default:
		return 0
	}
}

// Above reports whether t is strictly more severe than other.
func (t Tier) Above(other Tier) bool {
	return t.rank() > other.rank()
}

// Blocks reports whether the tier puts the source in the blocked set.
func (t Tier) Blocks() bool {
	return t == TierBlock || t == TierShutdown
}

const maxFieldLength = 2048

// Violation is one policy-violation record. Source identifies who
// triggered it (the reporting client) and is normalized by the engine.
type Violation struct {
	Kind               threat.Kind `json:"kind"`
	Source             string      `json:"source"`
	BlockedURI         string      `json:"blockedUri"`
	ViolatedDirective  string      `json:"violatedDirective"`
	EffectiveDirective string      `json:"effectiveDirective"`
	DocumentURI        string      `json:"documentUri"`
	SourceFile         string      `json:"sourceFile,omitempty"`
	LineNumber         int         `json:"lineNumber,omitempty"`
	ColumnNumber       int         `json:"columnNumber,omitempty"`
	Sample             string      `json:"sample,omitempty"`
	Disposition        string      `json:"disposition,omitempty"`
}

// Directive prefers the effective directive, which browsers report without
// the policy value.
func (v *Violation) Directive() string {
	if v.EffectiveDirective != "" {
		return v.EffectiveDirective
	}
	d, _, _ := strings.Cut(strings.TrimSpace(v.ViolatedDirective), " ")
	return d
}

// Truncate caps free-form fields so one report cannot bloat audit records.
func (v *Violation) Truncate() {
	for _, f := range []*string{&v.BlockedURI, &v.ViolatedDirective, &v.EffectiveDirective,
		&v.DocumentURI, &v.SourceFile, &v.Sample, &v.Source} {
		if len(*f) > maxFieldLength {
			*f = (*f)[:maxFieldLength]
		}
	}
}

// RuntimeError is an uncaught client-side error forwarded for inspection.
type RuntimeError struct {
	Source       string `json:"source"`
	Message      string `json:"message"`
	SourceFile   string `json:"sourceFile,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
	DocumentURI  string `json:"documentUri,omitempty"`
}

// AsViolation turns an XSS-indicative runtime error into a synthetic
// script-src violation.
func (e RuntimeError) AsViolation() Violation {
	return Violation{
		Kind:               threat.KindRuntimeError,
		Source:             e.Source,
		BlockedURI:         "inline",
		ViolatedDirective:  "script-src",
		EffectiveDirective: "script-src",
		DocumentURI:        e.DocumentURI,
		SourceFile:         e.SourceFile,
		LineNumber:         e.LineNumber,
		ColumnNumber:       e.ColumnNumber,
		Sample:             e.Message,
	}
}

// NormalizeSource folds equivalent spellings of a source together. URLs
// reduce to scheme and host; anything else is trimmed and lower-cased.
func NormalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return s
}

type Decision struct {
	Source    string            `json:"source"`
	Tier      Tier              `json:"tier"`
	Count     int               `json:"count"`
	Risk      threat.Assessment `json:"risk"`
	Escalated bool              `json:"escalated"`
	At        time.Time         `json:"at"`
}

type BlockedSource struct {
	Source    string     `json:"source"`
	Tier      Tier       `json:"tier"`
	Reason    string     `json:"reason"`
	BlockedAt time.Time  `json:"blockedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (b *BlockedSource) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

type Stats struct {
	TotalViolations int          `json:"totalViolations"`
	TrackedSources  int          `json:"trackedSources"`
	BlockedSources  int          `json:"blockedSources"`
	Evictions       int          `json:"evictions"`
	ByTier          map[Tier]int `json:"byTier"`
}

type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is what sinks receive when a source escalates past Log.
type Alert struct {
	Source    string    `json:"source"`
	Tier      Tier      `json:"tier"`
	Severity  Severity  `json:"severity"`
	Count     int       `json:"count"`
	RiskScore int       `json:"riskScore"`
	Directive string    `json:"directive,omitempty"`
	Patterns  []string  `json:"patterns,omitempty"`
	Lockdown  bool      `json:"lockdown"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// SeverityFor maps a tier to its alert severity.
func SeverityFor(t Tier) Severity {
	switch t {
	case TierShutdown:
		return SeverityCritical
	case TierBlock:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
