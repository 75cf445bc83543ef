package models

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Session is the server-owned record behind an opaque session token. Only
// the token's hash is kept. Similarity is always measured against the
// fingerprint bound at creation; LastFingerprint is the one presented at the
// last validation.
type Session struct {
	ID                uuid.UUID
	TokenHash         string
	DeviceFingerprint string
	LastFingerprint   string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivity      time.Time
	SecurityScore     int
	UserAgent         string
	IPAddress         string
	IsActive          bool
	DeactivatedReason DeactivationReason
	DeactivatedAt     *time.Time
}

type DeactivationReason string

const (
	DeactivatedExpired DeactivationReason = "expired"
	DeactivatedRevoked DeactivationReason = "revoked"
	DeactivatedRotated DeactivationReason = "rotated"
)

// IsExpired reports whether the session has reached its expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Deactivate marks the session inactive. It reports false when the session
// was already inactive, leaving the first reason in place.
func (s *Session) Deactivate(reason DeactivationReason, at time.Time) bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	s.DeactivatedReason = reason
	s.DeactivatedAt = &at
	return true
}

// Reactivate undoes a rotation whose replacement could not be stored.
func (s *Session) Reactivate() bool {
	if s.IsActive || s.DeactivatedReason != DeactivatedRotated {
		return false
	}
	s.IsActive = true
	s.DeactivatedReason = ""
	s.DeactivatedAt = nil
	return true
}

// MatchesToken compares in constant time.
func (s *Session) MatchesToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(s.TokenHash), []byte(HashToken(token))) == 1
}

// RecordValidation refreshes activity after a successful validation and
// lowers the score for drift in device or user agent. Each change is charged
// once: re-presenting the same drifted fingerprint costs nothing.
func (s *Session) RecordValidation(at time.Time, fingerprint, userAgent, ipAddress string, similarity float64) {
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	penalty := 0
	if similarity < 1 && fingerprint != s.LastFingerprint {
		penalty += int(math.Round((1 - similarity) * 50))
	}
	s.LastFingerprint = fingerprint
	if userAgent != "" && s.UserAgent != "" && userAgent != s.UserAgent {
		penalty += 10
	}
	s.SecurityScore = max(0, s.SecurityScore-penalty)
	if userAgent != "" {
		s.UserAgent = userAgent
	}
	if ipAddress != "" {
		s.IPAddress = ipAddress
	}
}

func (s *Session) Tier() SecurityTier {
	return TierFor(s.SecurityScore)
}

type SecurityTier string

const (
	TierHigh   SecurityTier = "high"
	TierMedium SecurityTier = "medium"
	TierLow    SecurityTier = "low"
)

// TierFor buckets a 0-100 score: high at 80, medium at 60.
func TierFor(score int) SecurityTier {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 60:
		return TierMedium
	default:
		return TierLow
	}
}

// InitialScore rates how much identifying context a new session arrived
// with.
func InitialScore(fingerprint, userAgent, ipAddress string) int {
	score := 100
	if userAgent == "" {
		score -= 20
	}
	if len(fingerprint) < minFingerprintLength {
		score -= 20
	}
	if ipAddress == "" {
		score -= 10
	}
	return score
}

// minFingerprintLength is the shortest descriptor that carries browser, OS
// and locale detail.
const minFingerprintLength = 24

const tokenBytes = 32

// NewToken returns a random URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewSession builds an active session. The plaintext token is not retained.
func NewSession(id uuid.UUID, token, fingerprint, userAgent, ipAddress string, score int, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:                id,
		TokenHash:         HashToken(token),
		DeviceFingerprint: fingerprint,
		LastFingerprint:   fingerprint,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		LastActivity:      now,
		SecurityScore:     score,
		UserAgent:         userAgent,
		IPAddress:         ipAddress,
		IsActive:          true,
	}
}
