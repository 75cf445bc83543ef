// Package service combines local strength scoring, the reuse history and
// the remote breach lookup into one assessment.
//
//	svc, _ := service.New(historyStore, service.WithBreachChecker(breachClient))
//	a := svc.Validate(ctx, password, &models.UserInfo{Email: email})
//	if !a.IsValid { ... }
package service

import (
	"context"
	"errors"
	"log/slog"

	"aegis/internal/password/breach"
	"aegis/internal/password/metrics"
	"aegis/internal/password/models"
	"aegis/internal/password/strength"
	"aegis/pkg/platform/audit"
)

const (
	DefaultMinScore = 60

	reusePenalty  = 25
	breachPenalty = 30
)

type HistoryStore interface {
	Contains(ctx context.Context, subject, password string) (bool, error)
	Add(ctx context.Context, subject, password string) error
}

type BreachChecker interface {
	Lookup(ctx context.Context, password string) (breach.Result, error)
}

type Service struct {
	history  HistoryStore
	breach   BreachChecker
	minScore int
	logger   *slog.Logger
	auditor  *audit.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

// WithBreachChecker enables the remote corpus lookup. Without it every
// assessment reports breach.checked=false.
func WithBreachChecker(b BreachChecker) Option {
	return func(s *Service) {
		s.breach = b
	}
}

func WithMinScore(n int) Option {
	return func(s *Service) {
		s.minScore = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.auditor = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(history HistoryStore, opts ...Option) (*Service, error) {
	if history == nil {
		return nil, errors.New("history store is required")
	}
	s := &Service{
		history:  history,
		minScore: DefaultMinScore,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Validate assesses password. It never fails: history and breach errors
// degrade to a local-only result with a note in the feedback. A valid
// password is pushed into the history of user, or of the anonymous bucket
// when user carries no identity.
func (s *Service) Validate(ctx context.Context, password string, user *models.UserInfo) *models.Assessment {
	score, feedback := strength.Evaluate(password, user)
	a := &models.Assessment{Score: score, Feedback: feedback}
	subject := user.HistoryKey()

	if s.isReused(ctx, subject, password) {
		a.Score -= reusePenalty
		a.Feedback = append(a.Feedback, models.Feedback{
			Code:    models.FeedbackReused,
			Message: "This password was used recently",
		})
		if s.metrics != nil {
			s.metrics.IncrementReuse()
		}
	}

	s.checkBreach(ctx, password, a)

	a.Score = strength.Clamp(a.Score)
	a.IsValid = a.Score >= s.minScore && !a.HasRequiredFailure()
	if s.metrics != nil {
		s.metrics.ObserveAssessment(a.Score, a.IsValid)
	}

	if a.IsValid {
		if err := s.history.Add(ctx, subject, password); err != nil {
			s.logger.WarnContext(ctx, "failed to record password history", "error", err)
		}
	}
	return a
}

func (s *Service) isReused(ctx context.Context, subject, password string) bool {
	reused, err := s.history.Contains(ctx, subject, password)
	if err != nil {
		s.logger.WarnContext(ctx, "password history lookup failed", "error", err)
		return false
	}
	return reused
}

func (s *Service) checkBreach(ctx context.Context, password string, a *models.Assessment) {
	if s.breach == nil {
		return
	}
	res, err := s.breach.Lookup(ctx, password)
	if err != nil {
		a.Feedback = append(a.Feedback, models.Feedback{
			Code:    models.FeedbackBreachUnknown,
			Message: "Could not verify against known breaches",
		})
		s.auditor.Log(ctx, audit.EventBreachCheckSkipped, "reason", err.Error())
		return
	}

	a.Breach.Checked = true
	if !res.Breached {
		return
	}
	a.Breach.IsBreached = true
	a.Breach.Count = res.Count
	a.Score -= breachPenalty
	a.Feedback = append(a.Feedback, models.Feedback{
		Code:    models.FeedbackBreached,
		Message: "This password has appeared in a data breach",
	})
	s.auditor.Log(ctx, audit.EventPasswordBreached, "occurrences", res.Count, "cached", res.Cached)
}
