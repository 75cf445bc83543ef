package models

import "time"

// Action selects the operation on the multiplexed session endpoint.
type Action string

const (
	ActionCreate          Action = "create"
	ActionValidate        Action = "validate"
	ActionRotate          Action = "rotate"
	ActionInvalidate      Action = "invalidate"
	ActionCheckConcurrent Action = "check_concurrent"
)

// Request is the body of POST /v1/session.
type Request struct {
	Action            Action `json:"action"`
	SessionID         string `json:"sessionId,omitempty"`
	Token             string `json:"token,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	UserAgent         string `json:"userAgent,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
}

// Response always carries Success. A refused operation sets Reason; a
// failed one sets only Error.
type Response struct {
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
	Reason         Reason       `json:"reason,omitempty"`
	SessionID      string       `json:"sessionId,omitempty"`
	Token          string       `json:"token,omitempty"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
	SecurityScore  int          `json:"securityScore,omitempty"`
	SecurityTier   SecurityTier `json:"securityTier,omitempty"`
	Flags          []string     `json:"flags,omitempty"`
	IsValid        bool         `json:"isValid,omitempty"`
	ActiveSessions *int         `json:"activeSessions,omitempty"`
	MaxSessions    int          `json:"maxSessions,omitempty"`
	AtCapacity     bool         `json:"atCapacity,omitempty"`
}

// Issued is returned by create and rotate. Token is the only copy of the
// plaintext token.
type Issued struct {
	SessionID     string
	Token         string
	ExpiresAt     time.Time
	SecurityScore int
	Tier          SecurityTier
}

type Validation struct {
	SessionID     string
	SecurityScore int
	Tier          SecurityTier
	Flags         []string
	ExpiresAt     time.Time
}

type Concurrency struct {
	Active     int
	Max        int
	AtCapacity bool
}
