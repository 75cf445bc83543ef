// Package sink delivers escalation alerts to operators.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"aegis/internal/escalation/metrics"
	"aegis/internal/escalation/models"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, alert models.Alert) error
}

// Fanout sends each alert to every sink concurrently. A failing sink does
// not stop delivery to the others.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

func NewFanout(m *metrics.Metrics, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, metrics: m}
}

// Notify returns the first sink error once every sink has finished.
func (f *Fanout) Notify(ctx context.Context, alert models.Alert) error {
	var g errgroup.Group
	for _, s := range f.sinks {
		g.Go(func() error {
			err := s.Send(ctx, alert)
			if f.metrics != nil {
				f.metrics.ObserveAlert(s.Name(), err)
			}
			if err != nil {
				return fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(ctx context.Context, alert models.Alert) error {
	level := slog.LevelWarn
	if alert.Severity == models.SeverityCritical {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "security_alert",
		"source", alert.Source,
		"tier", string(alert.Tier),
		"severity", string(alert.Severity),
		"count", alert.Count,
		"risk_score", alert.RiskScore,
		"directive", alert.Directive,
		"patterns", alert.Patterns,
		"lockdown", alert.Lockdown,
	)
	return nil
}
