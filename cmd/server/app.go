package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"aegis/internal/escalation/engine"
	escalationhandler "aegis/internal/escalation/handler"
	escalationmetrics "aegis/internal/escalation/metrics"
	"aegis/internal/escalation/sink"
	escalationcleanup "aegis/internal/escalation/workers/cleanup"
	"aegis/internal/password/breach"
	passwordhandler "aegis/internal/password/handler"
	"aegis/internal/password/history"
	passwordmetrics "aegis/internal/password/metrics"
	passwordservice "aegis/internal/password/service"
	"aegis/internal/platform/config"
	"aegis/internal/platform/database"
	"aegis/internal/platform/health"
	"aegis/internal/platform/kafka/producer"
	"aegis/internal/platform/redis"
	"aegis/internal/platform/tracer"
	ratelimithandler "aegis/internal/ratelimit/handler"
	ratelimitmetrics "aegis/internal/ratelimit/metrics"
	ratelimitmiddleware "aegis/internal/ratelimit/middleware"
	ratelimitservice "aegis/internal/ratelimit/service"
	"aegis/internal/ratelimit/store/override"
	"aegis/internal/ratelimit/store/suspicious"
	"aegis/internal/ratelimit/store/window"
	ratelimitcleanup "aegis/internal/ratelimit/workers/cleanup"
	sessionhandler "aegis/internal/session/handler"
	sessionmetrics "aegis/internal/session/metrics"
	sessionservice "aegis/internal/session/service"
	sessionstore "aegis/internal/session/store"
	sessioncleanup "aegis/internal/session/workers/cleanup"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/publisher"
	auditmemory "aegis/pkg/platform/audit/store/memory"
	auditpostgres "aegis/pkg/platform/audit/store/postgres"
	auditstream "aegis/pkg/platform/audit/store/stream"
	"aegis/pkg/platform/circuit"
)

// app holds every wired component. Optional infrastructure (redis,
// database, kafka) is nil when not configured.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	closer   *closer

	redis    *redis.Client
	database *database.Pool
	producer *producer.Producer
	health   *health.Handler

	rateLimiter       *ratelimitservice.Service
	rateLimitGuard    *ratelimitmiddleware.Middleware
	rateLimitHandler  *ratelimithandler.Handler
	rateLimitCleanup  *ratelimitcleanup.Service
	passwordHandler   *passwordhandler.Handler
	escalation        *engine.Engine
	escalationHandler *escalationhandler.Handler
	escalationCleanup *escalationcleanup.Service
	sessionHandler    *sessionhandler.Handler
	sessionCleanup    *sessioncleanup.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		closer:   &closer{logger: logger},
		health:   health.New(cfg.Server.Environment),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	auditLogger := a.buildAudit()
	if err := a.buildRateLimit(auditLogger); err != nil {
		return nil, err
	}
	if err := a.buildPassword(auditLogger); err != nil {
		return nil, err
	}
	if err := a.buildEscalation(auditLogger); err != nil {
		return nil, err
	}
	if err := a.buildSession(auditLogger); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	a.closer.close()
}

// connect opens the optional infrastructure and registers readiness checks.
func (a *app) connect(ctx context.Context) error {
	rc, err := redis.New(ctx, a.cfg.Redis, a.registry)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rc != nil {
		a.redis = rc
		a.closer.add("redis", rc.Close)
		a.health.RegisterCheck("redis", rc.Health)
	}

	pool, err := database.New(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if pool != nil {
		a.database = pool
		a.closer.add("database", pool.Close)
		a.health.RegisterCheck("database", pool.Health)
	}

	if a.cfg.Kafka.Brokers != "" {
		p, err := producer.New(a.cfg.Kafka.Producer(), a.logger)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		a.producer = p
		a.closer.add("kafka", p.Close)
		a.health.RegisterCheck("kafka", p.Health)
	}
	return nil
}

// buildAudit persists to Postgres when configured, otherwise in memory,
// and mirrors to the Kafka stream when brokers are set.
func (a *app) buildAudit() *audit.Logger {
	var store audit.Store = auditmemory.New()
	if a.database != nil {
		store = auditpostgres.New(a.database.DB())
	}
	opts := []publisher.Option{
		publisher.WithLogger(a.logger),
		publisher.WithAsyncBuffer(1024),
	}
	if a.producer != nil {
		opts = append(opts, publisher.WithMirror(auditstream.New(a.producer, a.cfg.Kafka.AuditTopic)))
	}
	pub := publisher.New(store, opts...)
	a.closer.add("audit", func() error { pub.Close(); return nil })
	return audit.NewLogger(a.logger, pub)
}

func (a *app) buildRateLimit(auditLogger *audit.Logger) error {
	m := ratelimitmetrics.New(a.registry)
	windows := window.NewInMemoryStore()
	overrides := override.NewInMemoryStore()
	flagged := suspicious.NewInMemoryStore()

	svc, err := ratelimitservice.New(windows, overrides, flagged,
		ratelimitservice.WithConfig(&a.cfg.RateLimit),
		ratelimitservice.WithLogger(a.logger),
		ratelimitservice.WithAuditLogger(auditLogger),
		ratelimitservice.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	worker, err := ratelimitcleanup.New(windows, overrides, flagged,
		ratelimitcleanup.WithLogger(a.logger),
		ratelimitcleanup.WithInterval(a.cfg.RateLimit.CleanupInterval),
		ratelimitcleanup.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("rate limit cleanup: %w", err)
	}

	a.rateLimiter = svc
	a.rateLimitGuard = ratelimitmiddleware.New(svc, a.logger)
	a.rateLimitHandler = ratelimithandler.New(svc, a.cfg.RateLimit.LimitFor, a.logger)
	a.rateLimitCleanup = worker
	return nil
}

func (a *app) buildPassword(auditLogger *audit.Logger) error {
	m := passwordmetrics.New(a.registry)
	hist, err := history.New(
		history.WithSize(a.cfg.Password.HistorySize),
		history.WithCost(a.cfg.Password.BcryptCost),
	)
	if err != nil {
		return fmt.Errorf("password history: %w", err)
	}

	opts := []passwordservice.Option{
		passwordservice.WithMinScore(a.cfg.Password.MinScore),
		passwordservice.WithLogger(a.logger),
		passwordservice.WithAuditLogger(auditLogger),
		passwordservice.WithMetrics(m),
	}
	if a.cfg.Breach.Enabled {
		bc := a.cfg.Breach
		client, err := breach.New(bc.BaseURL,
			breach.WithTimeout(bc.Timeout),
			breach.WithCache(bc.CacheSize, bc.CacheTTL),
			breach.WithBreaker(circuit.Config{
				Name:             "breach-range",
				FailureThreshold: bc.FailureThreshold,
				Timeout:          bc.OpenTimeout,
			}),
			breach.WithTracer(tracer.NewOTel()),
			breach.WithMetrics(m),
			breach.WithLogger(a.logger),
		)
		if err != nil {
			return err
		}
		opts = append(opts, passwordservice.WithBreachChecker(client))
	}

	svc, err := passwordservice.New(hist, opts...)
	if err != nil {
		return fmt.Errorf("password service: %w", err)
	}
	a.passwordHandler = passwordhandler.New(svc, a.logger)
	return nil
}

// buildEscalation feeds blocks back into the rate limiter as suspicious
// sources.
func (a *app) buildEscalation(auditLogger *audit.Logger) error {
	ec := a.cfg.Escalation
	m := escalationmetrics.New(a.registry)

	sinks := []sink.Sink{sink.NewLogSink(a.logger)}
	if ec.WebhookURL != "" {
		sinks = append(sinks, sink.NewWebhookSink(ec.WebhookURL, sink.WithTimeout(ec.WebhookTimeout)))
	}

	eng, err := engine.New(
		engine.WithMaxTrackedSources(ec.MaxTrackedSources),
		engine.WithRepeatWindow(ec.RepeatWindow),
		engine.WithBlockTTL(ec.BlockTTL),
		engine.WithFlagger(a.rateLimiter),
		engine.WithNotifier(sink.NewFanout(m, sinks...)),
		engine.WithLogger(a.logger),
		engine.WithAuditLogger(auditLogger),
		engine.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("escalation engine: %w", err)
	}
	worker, err := escalationcleanup.New(eng,
		escalationcleanup.WithLogger(a.logger),
		escalationcleanup.WithInterval(ec.CleanupInterval),
		escalationcleanup.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("escalation cleanup: %w", err)
	}

	a.escalation = eng
	a.escalationHandler = escalationhandler.New(eng, a.logger)
	a.escalationCleanup = worker
	return nil
}

// sessionStore is what both the service and the cleanup worker need.
type sessionStore interface {
	sessionservice.Store
	sessioncleanup.Purger
}

func (a *app) buildSession(auditLogger *audit.Logger) error {
	sc := a.cfg.Session
	m := sessionmetrics.New(a.registry)

	var store sessionStore = sessionstore.NewInMemoryStore()
	if a.redis != nil {
		store = sessionstore.NewRedisStore(a.redis.Client, sessionstore.WithRetention(sc.Retention))
	}

	svc, err := sessionservice.New(store,
		sessionservice.WithTTL(sc.TTL),
		sessionservice.WithMaxPerDevice(sc.MaxPerDevice),
		sessionservice.WithSimilarityThreshold(sc.SimilarityThreshold),
		sessionservice.WithMaxFingerprintLength(sc.MaxFingerprintLen),
		sessionservice.WithLogger(a.logger),
		sessionservice.WithAuditLogger(auditLogger),
		sessionservice.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("session service: %w", err)
	}
	worker, err := sessioncleanup.New(svc,
		sessioncleanup.WithPurger(store, sc.Retention),
		sessioncleanup.WithInterval(sc.CleanupInterval),
		sessioncleanup.WithLogger(a.logger),
		sessioncleanup.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("session cleanup: %w", err)
	}

	a.sessionHandler = sessionhandler.New(svc, a.logger)
	a.sessionCleanup = worker
	return nil
}
