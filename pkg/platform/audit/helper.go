package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"aegis/pkg/platform/attrs"
	"aegis/pkg/requestcontext"
)

// Emitter is the interface for audit event emission.
// Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger writes an audit event to the structured log and, when an emitter
// is configured, to the audit store. Services use it instead of talking to
// the publisher directly.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. Either argument may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{textLogger: textLogger, emitter: emitter}
}

// reserved attribute keys lifted into Event fields rather than Detail.
var reserved = []string{"subject", "decision", "reason", "severity"}

// Log records eventType. The attributes "subject", "decision", "reason" and
// "severity" populate the matching Event fields; everything else lands in
// Detail. The returned event is what was emitted, which lets callers write
// the record before acting on it.
//
//	l.Log(ctx, audit.EventSourceBlocked, "subject", src, "reason", "high_risk_pattern")
func (l *Logger) Log(ctx context.Context, eventType EventType, attributes ...any) Event {
	if l == nil {
		return Event{}
	}
	severity := Severity(attrs.ExtractString(attributes, "severity"))
	if severity == "" {
		severity = SeverityFor(eventType)
	}
	event := Event{
		ID:        uuid.New(),
		Timestamp: requestcontext.Now(ctx),
		EventType: eventType,
		Severity:  severity,
		Subject:   attrs.ExtractString(attributes, "subject"),
		Decision:  attrs.ExtractString(attributes, "decision"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		Detail:    attrs.ToMap(attributes, reserved...),
		RequestID: requestcontext.RequestID(ctx),
	}

	l.logToText(ctx, event, attributes)
	l.emit(ctx, event)
	return event
}

func (l *Logger) logToText(ctx context.Context, event Event, attributes []any) {
	if l.textLogger == nil {
		return
	}
	args := append([]any{}, attributes...)
	args = append(args, "event", string(event.EventType), "log_type", "audit")
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	level := slog.LevelInfo
	if event.Severity == SeverityHigh || event.Severity == SeverityCritical {
		level = slog.LevelWarn
	}
	l.textLogger.Log(ctx, level, string(event.EventType), args...)
}

func (l *Logger) emit(ctx context.Context, event Event) {
	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, event); err != nil && l.textLogger != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"event", string(event.EventType),
		)
	}
}
