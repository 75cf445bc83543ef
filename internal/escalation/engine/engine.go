// Package engine turns policy-violation reports into escalating responses.
//
// Each normalized source moves through Log, Alert, Block and Shutdown.
// Risk is classified before counts are considered, so a single report with
// a high-risk pattern blocks its source immediately, while benign reports
// only block after repeated offences. Every decision is audited before any
// side effect (blocking, flagging the rate limiter, alerting) runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"aegis/internal/escalation/metrics"
	"aegis/internal/escalation/models"
	"aegis/internal/threat"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

const (
	DefaultMaxTrackedSources = 100

	// ReasonEscalation is the flag reason handed to the rate limiter.
	ReasonEscalation = "escalation_block"

	reasonBlockExpired = "block_expired"
	reasonManual       = "manual"
)

// Flagger tightens rate limits for a source. Satisfied by the rate-limit
// service.
type Flagger interface {
	FlagSuspicious(ctx context.Context, source string, reason string)
}

// Notifier delivers alerts. Satisfied by sink.Fanout.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

type sourceState struct {
	count int
	last  time.Time
	tier  models.Tier
}

// Engine is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	counters  *simplelru.LRU[string, *sourceState]
	blocked   map[string]*models.BlockedSource
	total     int
	evictions int
	byTier    map[models.Tier]int

	maxSources   int
	repeatWindow time.Duration
	blockTTL     time.Duration

	flagger  Flagger
	notifier Notifier
	logger   *slog.Logger
	auditor  *audit.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

// WithMaxTrackedSources bounds the violation counters; the least recently
// seen source is evicted first.
func WithMaxTrackedSources(n int) Option {
	return func(e *Engine) {
		e.maxSources = n
	}
}

func WithRepeatWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.repeatWindow = d
	}
}

// WithBlockTTL lifts blocks after d. Zero keeps blocks until Unblock.
func WithBlockTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.blockTTL = d
	}
}

func WithFlagger(f Flagger) Option {
	return func(e *Engine) {
		e.flagger = f
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(e *Engine) {
		e.auditor = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		blocked:      make(map[string]*models.BlockedSource),
		byTier:       make(map[models.Tier]int),
		maxSources:   DefaultMaxTrackedSources,
		repeatWindow: threat.RepeatWindow,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.blockTTL < 0 {
		return nil, errors.New("block ttl must not be negative")
	}
	counters, err := simplelru.NewLRU[string, *sourceState](e.maxSources, nil)
	if err != nil {
		return nil, fmt.Errorf("create violation counters: %w", err)
	}
	e.counters = counters
	return e, nil
}

// Report records one violation and returns the resulting decision. It never
// fails; sink and flagger errors are logged.
func (e *Engine) Report(ctx context.Context, v models.Violation) models.Decision {
	v.Truncate()
	if v.Kind == "" {
		v.Kind = threat.KindCSPViolation
	}
	source := models.NormalizeSource(v.Source)
	now := requestcontext.Now(ctx)

	e.mu.Lock()
	st, ok := e.counters.Get(source)
	if !ok {
		st = &sourceState{tier: models.TierLog}
		if e.counters.Add(source, st) {
			e.evictions++
			if e.metrics != nil {
				e.metrics.IncrementEviction()
			}
		}
	}
	var sinceLast time.Duration
	if !st.last.IsZero() {
		sinceLast = now.Sub(st.last)
	}
	st.count++
	st.last = now

	risk := threat.Score(threat.Signal{
		Kind:      v.Kind,
		Count:     st.count,
		SinceLast: sinceLast,
		Window:    e.repeatWindow,
		Text:      []string{v.BlockedURI, v.Sample, v.SourceFile},
		Directive: v.Directive(),
	})
	decided := Decide(st.count, risk)
	escalated := decided.Above(st.tier)
	if escalated {
		st.tier = decided
	}
	decision := models.Decision{
		Source:    source,
		Tier:      st.tier,
		Count:     st.count,
		Risk:      risk,
		Escalated: escalated,
		At:        now,
	}
	e.total++
	e.byTier[decision.Tier]++
	e.refreshGauges()
	e.mu.Unlock()

	e.record(ctx, v, decision)
	e.apply(ctx, v, decision)

	if e.metrics != nil {
		e.metrics.ObserveDecision(string(v.Kind), string(decision.Tier), risk.Score)
	}
	return decision
}

// ReportRuntimeError escalates a runtime error only when its message looks
// like an injection attempt. The bool reports whether it was escalated.
func (e *Engine) ReportRuntimeError(ctx context.Context, re models.RuntimeError) (models.Decision, bool) {
	indicative := threat.IsXSSIndicative(re.Message)
	if e.metrics != nil {
		e.metrics.ObserveRuntimeError(indicative)
	}
	if !indicative {
		return models.Decision{}, false
	}
	return e.Report(ctx, re.AsViolation()), true
}

// Decide maps a source's violation count and the current risk to a tier.
func Decide(count int, risk threat.Assessment) models.Tier {
	switch {
	case count > 5:
		return models.TierShutdown
	case risk.Category.AtLeast(threat.CategoryHigh) || count > 3:
		return models.TierBlock
	case risk.Category.AtLeast(threat.CategoryMedium) || count >= 2:
		return models.TierAlert
	default:
		return models.TierLog
	}
}

var tierEvents = map[models.Tier]audit.EventType{
	models.TierLog:      audit.EventViolationLogged,
	models.TierAlert:    audit.EventViolationAlert,
	models.TierBlock:    audit.EventSourceBlocked,
	models.TierShutdown: audit.EventEmergencyShutdown,
}

func (e *Engine) record(ctx context.Context, v models.Violation, d models.Decision) {
	e.auditor.Log(ctx, tierEvents[d.Tier],
		"subject", privacy.RedactIdentifier(d.Source),
		"decision", string(d.Tier),
		"reason", strings.Join(d.Risk.Reasons, ","),
		"kind", string(v.Kind),
		"directive", v.Directive(),
		"blocked_uri", v.BlockedURI,
		"document_uri", v.DocumentURI,
		"count", d.Count,
		"risk_score", d.Risk.Score,
		"risk_category", string(d.Risk.Category),
		"patterns", strings.Join(d.Risk.Patterns, ","),
		"escalated", d.Escalated,
	)
}

func (e *Engine) apply(ctx context.Context, v models.Violation, d models.Decision) {
	if d.Tier.Blocks() {
		newlyBlocked := e.block(d)
		if newlyBlocked && e.flagger != nil {
			e.flagger.FlagSuspicious(ctx, d.Source, ReasonEscalation)
		}
	}
	// Every violation at Alert or above is announced, not only tier changes.
	if !d.Tier.Above(models.TierLog) || e.notifier == nil {
		return
	}
	alert := models.Alert{
		Source:    d.Source,
		Tier:      d.Tier,
		Severity:  models.SeverityFor(d.Tier),
		Count:     d.Count,
		RiskScore: d.Risk.Score,
		Directive: v.Directive(),
		Patterns:  d.Risk.Patterns,
		Lockdown:  d.Tier == models.TierShutdown,
		Message:   alertMessage(d),
		At:        d.At,
	}
	// Delivery outlives the request that triggered it.
	if err := e.notifier.Notify(context.WithoutCancel(ctx), alert); err != nil {
		e.logger.WarnContext(ctx, "alert delivery failed",
			"error", err,
			"tier", string(d.Tier),
		)
	}
}

func alertMessage(d models.Decision) string {
	switch d.Tier {
	case models.TierShutdown:
		return fmt.Sprintf("emergency lockdown: %d violations from one source", d.Count)
	case models.TierBlock:
		return fmt.Sprintf("source blocked after %d violation(s), risk %d", d.Count, d.Risk.Score)
	default:
		return fmt.Sprintf("repeated policy violations (%d), risk %d", d.Count, d.Risk.Score)
	}
}

// block adds or upgrades the blocked entry and reports whether the source
// was not blocked before.
func (e *Engine) block(d models.Decision) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.blocked[d.Source]; ok && !existing.IsExpired(d.At) {
		if d.Tier.Above(existing.Tier) {
			existing.Tier = d.Tier
		}
		return false
	}
	entry := &models.BlockedSource{
		Source:    d.Source,
		Tier:      d.Tier,
		Reason:    blockReason(d),
		BlockedAt: d.At,
	}
	if e.blockTTL > 0 {
		expires := d.At.Add(e.blockTTL)
		entry.ExpiresAt = &expires
	}
	e.blocked[d.Source] = entry
	e.refreshGauges()
	return true
}

func blockReason(d models.Decision) string {
	if len(d.Risk.Reasons) > 0 && d.Risk.Category.AtLeast(threat.CategoryHigh) {
		return d.Risk.Reasons[0]
	}
	return "violation_count"
}

// IsBlocked reports whether source is currently blocked.
func (e *Engine) IsBlocked(ctx context.Context, source string) bool {
	now := requestcontext.Now(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.blocked[models.NormalizeSource(source)]
	return ok && !b.IsExpired(now)
}

// Unblock lifts a block and forgets the source's violation history. It
// reports whether the source was blocked.
func (e *Engine) Unblock(ctx context.Context, source string) bool {
	source = models.NormalizeSource(source)
	e.mu.Lock()
	_, ok := e.blocked[source]
	delete(e.blocked, source)
	e.counters.Remove(source)
	e.refreshGauges()
	e.mu.Unlock()

	if ok {
		e.auditor.Log(ctx, audit.EventSourceUnblocked,
			"subject", privacy.RedactIdentifier(source),
			"reason", reasonManual,
		)
	}
	return ok
}

// ListBlocked returns live blocks, oldest first.
func (e *Engine) ListBlocked(ctx context.Context) []models.BlockedSource {
	now := requestcontext.Now(ctx)
	e.mu.Lock()
	out := make([]models.BlockedSource, 0, len(e.blocked))
	for _, b := range e.blocked {
		if !b.IsExpired(now) {
			out = append(out, *b)
		}
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b models.BlockedSource) int {
		if c := a.BlockedAt.Compare(b.BlockedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Source, b.Source)
	})
	return out
}

// Count returns the tracked violation count for source.
func (e *Engine) Count(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.counters.Peek(models.NormalizeSource(source)); ok {
		return st.count
	}
	return 0
}

func (e *Engine) Stats(ctx context.Context) models.Stats {
	now := requestcontext.Now(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()

	blocked := 0
	for _, b := range e.blocked {
		if !b.IsExpired(now) {
			blocked++
		}
	}
	byTier := make(map[models.Tier]int, len(e.byTier))
	for k, v := range e.byTier {
		byTier[k] = v
	}
	return models.Stats{
		TotalViolations: e.total,
		TrackedSources:  e.counters.Len(),
		BlockedSources:  blocked,
		Evictions:       e.evictions,
		ByTier:          byTier,
	}
}

// SweepExpired lifts blocks whose TTL has passed and returns how many were
// lifted. Lifted sources start over with a clean violation count.
func (e *Engine) SweepExpired(ctx context.Context) int {
	now := requestcontext.Now(ctx)
	e.mu.Lock()
	var lifted []string
	for source, b := range e.blocked {
		if b.IsExpired(now) {
			delete(e.blocked, source)
			e.counters.Remove(source)
			lifted = append(lifted, source)
		}
	}
	e.refreshGauges()
	e.mu.Unlock()

	for _, source := range lifted {
		e.auditor.Log(ctx, audit.EventSourceUnblocked,
			"subject", privacy.RedactIdentifier(source),
			"reason", reasonBlockExpired,
		)
	}
	return len(lifted)
}

// refreshGauges runs with e.mu held.
func (e *Engine) refreshGauges() {
	if e.metrics != nil {
		e.metrics.SetSources(e.counters.Len(), len(e.blocked))
	}
}
