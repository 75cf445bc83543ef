package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"aegis/pkg/requestcontext"

	"github.com/stretchr/testify/suite"
)

type mockEmitter struct {
	events    []Event
	shouldErr bool
}

func (m *mockEmitter) Emit(_ context.Context, event Event) error {
	if m.shouldErr {
		return errors.New("emit failed")
	}
	m.events = append(m.events, event)
	return nil
}

// LoggerSuite tests the audit Logger helper.
//
// Justification: every escalation decision relies on Log returning the
// emitted record before side effects run; field lifting and severity
// defaults are only observable here.
type LoggerSuite struct {
	suite.Suite
	emitter *mockEmitter
	logger  *Logger
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) SetupTest() {
	s.emitter = &mockEmitter{}
	s.logger = NewLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), s.emitter)
}

func (s *LoggerSuite) TestLiftsReservedAttributes() {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-1"), now)

	got := s.logger.Log(ctx, EventSourceBlocked,
		"subject", "203.0.113.0",
		"decision", "block",
		"reason", "high_risk_pattern",
		"directive", "script-src",
	)

	s.Require().Len(s.emitter.events, 1)
	s.Equal(got, s.emitter.events[0])
	s.Equal("203.0.113.0", got.Subject)
	s.Equal("block", got.Decision)
	s.Equal("high_risk_pattern", got.Reason)
	s.Equal(map[string]string{"directive": "script-src"}, got.Detail)
	s.Equal("req-1", got.RequestID)
	s.Equal(now, got.Timestamp)
	s.NotEqual([16]byte{}, [16]byte(got.ID))
}

func (s *LoggerSuite) TestSeverity() {
	s.Run("defaults by event type", func() {
		got := s.logger.Log(context.Background(), EventEmergencyShutdown)
		s.Equal(SeverityCritical, got.Severity)
	})

	s.Run("explicit severity wins", func() {
		got := s.logger.Log(context.Background(), EventRateLimitDenied, "severity", "high")
		s.Equal(SeverityHigh, got.Severity)
	})

	s.Run("unknown event type is low", func() {
		s.Equal(SeverityLow, SeverityFor(EventType("something_else")))
	})
}

func (s *LoggerSuite) TestEmitErrorIsSwallowed() {
	s.emitter.shouldErr = true
	s.NotPanics(func() {
		s.logger.Log(context.Background(), EventSessionRevoked, "subject", "sess-1")
	})
	s.Empty(s.emitter.events)
}

func (s *LoggerSuite) TestNilCollaborators() {
	s.Run("nil emitter", func() {
		l := NewLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
		s.NotPanics(func() { l.Log(context.Background(), EventSessionCreated) })
	})

	s.Run("nil text logger still emits", func() {
		emitter := &mockEmitter{}
		l := NewLogger(nil, emitter)
		l.Log(context.Background(), EventSessionCreated)
		s.Len(emitter.events, 1)
	})

	s.Run("nil logger is a no-op", func() {
		var l *Logger
		s.NotPanics(func() { l.Log(context.Background(), EventSessionCreated) })
	})
}
