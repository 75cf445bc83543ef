// Package manager holds one client's session against a session service
// (local or remote) and keeps it honest.
//
// State machine:
//
//	Unestablished -> Validating -> Valid <-> Rotating
//	Validating | Valid -> Invalidated
//	any -> Unestablished (Invalidate)
//
// While a session is held the manager re-validates it on an interval.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aegis/internal/device"
	"aegis/internal/session/metrics"
	"aegis/internal/session/models"
	"aegis/internal/session/service"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

// DefaultRevalidateInterval is how often a held session is re-checked.
const DefaultRevalidateInterval = 5 * time.Minute

// FlagValidationError marks a session dropped because validation could not
// complete, as opposed to being refused.
const FlagValidationError = string(models.ReasonValidationError)

type State string

const (
	StateUnestablished State = "unestablished"
	StateValidating    State = "validating"
	StateValid         State = "valid"
	StateRotating      State = "rotating"
	StateInvalidated   State = "invalidated"
)

// Remote is the session service as seen by a client. Both *client.Client
// and *service.Service satisfy it.
type Remote interface {
	Create(ctx context.Context, in service.CreateInput) (*models.Issued, error)
	Validate(ctx context.Context, in service.ValidateInput) (*models.Validation, error)
	Rotate(ctx context.Context, in service.ValidateInput) (*models.Issued, error)
	Revoke(ctx context.Context, sessionID, token string) error
}

// Status is a snapshot of the held session.
type Status struct {
	State          State
	SessionID      string
	SecurityScore  int
	Tier           models.SecurityTier
	Flags          []string
	IsValid        bool
	ExpiresAt      time.Time
	LastValidation time.Time
}

// RotateResult reports whether the remote rotation happened. On failure
// the previous session and status are kept.
type RotateResult struct {
	Success bool
	Error   string
	Status  Status
}

type Option func(*Manager)

func WithRevalidateInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithIPAddress(ip string) Option {
	return func(m *Manager) {
		m.ipAddress = ip
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

type Manager struct {
	remote      Remote
	fingerprint string
	userAgent   string
	ipAddress   string
	interval    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// op serializes operations; mu guards the fields below it.
	op      sync.Mutex
	mu      sync.Mutex
	token   string
	status  Status
	stop    context.CancelFunc
	stopped chan struct{}
}

// New builds a manager for the device described by attrs.
func New(remote Remote, attrs device.Attributes, opts ...Option) (*Manager, error) {
	if remote == nil {
		return nil, errors.New("session remote is required")
	}
	m := &Manager{
		remote:      remote,
		fingerprint: device.Generate(attrs).Descriptor,
		userAgent:   attrs.UserAgent,
		interval:    DefaultRevalidateInterval,
		logger:      slog.Default(),
		status:      Status{State: StateUnestablished},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Token returns the bearer token of the held session, if any.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) snapshot() Status {
	s := m.status
	s.Flags = append([]string(nil), m.status.Flags...)
	return s
}

// Establish creates a session, validates it and starts re-validation. It
// is refused unless the manager is Unestablished; call Invalidate to start
// over after a failure.
func (m *Manager) Establish(ctx context.Context) (Status, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if m.Status().State != StateUnestablished {
		return m.Status(), dErrors.New(dErrors.CodeConflict, "session already established")
	}
	issued, err := m.remote.Create(ctx, service.CreateInput{
		Fingerprint: m.fingerprint,
		UserAgent:   m.userAgent,
		IPAddress:   m.ipAddress,
	})
	if err != nil {
		return m.Status(), err
	}
	m.hold(issued)
	status, err := m.validate(ctx)
	if err == nil {
		m.startMonitor()
	}
	return status, err
}

// Resume adopts a session issued elsewhere and validates it.
func (m *Manager) Resume(ctx context.Context, sessionID, token string) (Status, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.hold(&models.Issued{SessionID: sessionID, Token: token})
	status, err := m.validate(ctx)
	if err == nil {
		m.startMonitor()
	}
	return status, err
}

// Validate re-checks the held session. Any failure leaves the manager
// Invalidated with a flag naming why.
func (m *Manager) Validate(ctx context.Context) (Status, error) {
	m.op.Lock()
	defer m.op.Unlock()
	return m.validate(ctx)
}

func (m *Manager) validate(ctx context.Context) (Status, error) {
	m.mu.Lock()
	id, token := m.status.SessionID, m.token
	m.mu.Unlock()
	if id == "" {
		return m.Status(), dErrors.New(dErrors.CodeInvalidated, "no session held")
	}

	m.mu.Lock()
	prior := m.status.State
	m.setState(StateValidating)
	m.mu.Unlock()
	v, err := m.remote.Validate(ctx, service.ValidateInput{
		SessionID:   id,
		Token:       token,
		Fingerprint: m.fingerprint,
		UserAgent:   m.userAgent,
		IPAddress:   m.ipAddress,
	})
	now := requestcontext.Now(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil && ctx.Err() != nil {
		// The caller gave up; its answer says nothing about the session.
		m.setState(prior)
		return m.snapshot(), ctx.Err()
	}
	if err != nil {
		flag := FlagValidationError
		if reason, ok := models.ReasonOf(err); ok {
			flag = string(reason)
		}
		m.status.IsValid = false
		m.status.Flags = []string{flag}
		m.status.LastValidation = now
		m.setState(StateInvalidated)
		m.logger.WarnContext(ctx, "session invalidated", "flag", flag, "error", err)
		return m.snapshot(), err
	}
	m.status.IsValid = true
	m.status.SecurityScore = v.SecurityScore
	m.status.Tier = v.Tier
	m.status.Flags = v.Flags
	m.status.ExpiresAt = v.ExpiresAt
	m.status.LastValidation = now
	m.setState(StateValid)
	return m.snapshot(), nil
}

// Rotate swaps the held session for a fresh one bound to the same device
// and validates the new one. A failed rotation changes nothing.
func (m *Manager) Rotate(ctx context.Context) RotateResult {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	prior := m.snapshot()
	token := m.token
	if prior.State != StateValid {
		m.mu.Unlock()
		return RotateResult{Error: "no valid session to rotate", Status: prior}
	}
	m.setState(StateRotating)
	m.mu.Unlock()

	issued, err := m.remote.Rotate(ctx, service.ValidateInput{
		SessionID:   prior.SessionID,
		Token:       token,
		Fingerprint: m.fingerprint,
		UserAgent:   m.userAgent,
		IPAddress:   m.ipAddress,
	})
	if err != nil {
		m.mu.Lock()
		m.setState(prior.State)
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "session rotation failed", "error", err)
		return RotateResult{Error: err.Error(), Status: prior}
	}

	m.hold(issued)
	status, _ := m.validate(ctx)
	return RotateResult{Success: true, Status: status}
}

// Invalidate revokes the session remotely and resets to Unestablished even
// when the remote call fails.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.stopMonitor()

	m.mu.Lock()
	id, token := m.status.SessionID, m.token
	m.token = ""
	m.status = Status{}
	m.setState(StateUnestablished)
	m.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := m.remote.Revoke(ctx, id, token); err != nil {
		m.logger.WarnContext(ctx, "remote session revoke failed", "error", err)
		return err
	}
	return nil
}

// Close stops re-validation and waits for the monitor to exit. The session
// itself is left as is.
func (m *Manager) Close() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	m.stopMonitor()
	if stopped != nil {
		<-stopped
	}
}

func (m *Manager) hold(issued *models.Issued) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = issued.Token
	m.status.SessionID = issued.SessionID
	m.status.ExpiresAt = issued.ExpiresAt
}

// startMonitor runs re-validation until the session is dropped. Calling it
// while a monitor runs is a no-op.
func (m *Manager) startMonitor() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.stopped = make(chan struct{})
	go m.monitor(ctx, m.stopped)
}

// stopMonitor cancels without waiting; the monitor may be blocked on op.
func (m *Manager) stopMonitor() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

// release clears the monitor slot if it still belongs to the monitor that
// owns stopped.
func (m *Manager) release(stopped chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped == stopped && m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

func (m *Manager) monitor(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.revalidate(ctx) {
				m.release(stopped)
				return
			}
		}
	}
}

// revalidate reports whether the session is still held afterwards.
func (m *Manager) revalidate(ctx context.Context) bool {
	m.op.Lock()
	defer m.op.Unlock()
	if ctx.Err() != nil {
		return false
	}
	status, err := m.validate(ctx)
	if err != nil {
		return false
	}
	return status.State == StateValid
}

// setState records a transition. Callers hold mu.
func (m *Manager) setState(s State) {
	if m.status.State == s {
		return
	}
	m.status.State = s
	if m.metrics != nil {
		m.metrics.IncrementTransition(string(s))
	}
}
