package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one entry in the append-only security audit log. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType EventType         `json:"eventType"`
	Severity  Severity          `json:"severity"`
	Subject   string            `json:"subject"` // redacted source, device or session the event concerns
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

type EventType string

const (
	EventRateLimitDenied    EventType = "rate_limit_denied"
	EventBurstDetected      EventType = "rate_limit_burst_detected"
	EventSourceFlagged      EventType = "source_flagged_suspicious"
	EventSourceCleared      EventType = "source_cleared"
	EventViolationLogged    EventType = "policy_violation_logged"
	EventViolationAlert     EventType = "policy_violation_alert"
	EventSourceBlocked      EventType = "policy_violation_block"
	EventEmergencyShutdown  EventType = "policy_violation_shutdown"
	EventSourceUnblocked    EventType = "policy_source_unblocked"
	EventSessionCreated     EventType = "session_created"
	EventSessionRejected    EventType = "session_create_rejected"
	EventSessionInvalid     EventType = "session_validation_failed"
	EventSessionRevoked     EventType = "session_revoked"
	EventSessionRotated     EventType = "session_rotated"
	EventPasswordBreached   EventType = "password_breached"
	EventBreachCheckSkipped EventType = "password_breach_check_unavailable"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var defaultSeverity = map[EventType]Severity{
	EventRateLimitDenied:    SeverityLow,
	EventBurstDetected:      SeverityMedium,
	EventSourceFlagged:      SeverityMedium,
	EventViolationLogged:    SeverityLow,
	EventViolationAlert:     SeverityMedium,
	EventSourceBlocked:      SeverityHigh,
	EventEmergencyShutdown:  SeverityCritical,
	EventSessionInvalid:     SeverityMedium,
	EventSessionRejected:    SeverityMedium,
	EventPasswordBreached:   SeverityMedium,
	EventBreachCheckSkipped: SeverityLow,
}

// SeverityFor returns the default severity for an event type.
func SeverityFor(t EventType) Severity {
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityLow
}

// Store is the append-only persistence boundary for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
