// Package client calls a remote session service over its multiplexed
// POST /v1/session endpoint.
//
// A refusal from the service comes back as a models.Deny error carrying the
// remote reason. Anything else that goes wrong (transport, 5xx, open
// circuit, undecodable body) is a CodeDegraded domain error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aegis/internal/platform/tracer"
	"aegis/internal/session/metrics"
	"aegis/internal/session/models"
	"aegis/internal/session/service"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/circuit"
)

const (
	sessionPath     = "/v1/session"
	maxResponseSize = 64 << 10
	userAgent       = "aegis-session-client"
)

// HTTPDoer is the part of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	endpoint string
	http     HTTPDoer
	timeout  time.Duration
	breaker  *circuit.Breaker[*reply]
	cbCfg    circuit.Config
	tracer   tracer.Tracer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// reply is a decoded response the breaker counted as a success. Refusals
// and client errors still arrive here; only the caller turns them into
// errors.
type reply struct {
	status int
	body   models.Response
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithBreaker(cfg circuit.Config) Option {
	return func(c *Client) {
		c.cbCfg = cfg
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("session client: invalid base url %q", baseURL)
	}
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + sessionPath,
		timeout:  3 * time.Second,
		cbCfg:    circuit.DefaultConfig("session-remote"),
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	c.breaker = circuit.New[*reply](c.cbCfg,
		circuit.WithLogger(c.logger),
		circuit.WithSuccessClassifier(func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}),
	)
	return c, nil
}

func (c *Client) Create(ctx context.Context, in service.CreateInput) (*models.Issued, error) {
	resp, err := c.call(ctx, models.Request{
		Action:            models.ActionCreate,
		DeviceFingerprint: in.Fingerprint,
		UserAgent:         in.UserAgent,
		IPAddress:         in.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	return issued(resp)
}

func (c *Client) Validate(ctx context.Context, in service.ValidateInput) (*models.Validation, error) {
	resp, err := c.call(ctx, validateRequest(models.ActionValidate, in))
	if err != nil {
		return nil, err
	}
	if !resp.IsValid {
		return nil, models.Deny(models.ReasonValidationError)
	}
	v := &models.Validation{
		SessionID:     resp.SessionID,
		SecurityScore: resp.SecurityScore,
		Tier:          resp.SecurityTier,
		Flags:         resp.Flags,
	}
	if resp.ExpiresAt != nil {
		v.ExpiresAt = *resp.ExpiresAt
	}
	return v, nil
}

func (c *Client) Rotate(ctx context.Context, in service.ValidateInput) (*models.Issued, error) {
	resp, err := c.call(ctx, validateRequest(models.ActionRotate, in))
	if err != nil {
		return nil, err
	}
	return issued(resp)
}

// Revoke deactivates the session remotely.
func (c *Client) Revoke(ctx context.Context, sessionID, token string) error {
	_, err := c.call(ctx, models.Request{
		Action:    models.ActionInvalidate,
		SessionID: sessionID,
		Token:     token,
	})
	return err
}

func (c *Client) CheckConcurrent(ctx context.Context, fingerprint string) (*models.Concurrency, error) {
	resp, err := c.call(ctx, models.Request{
		Action:            models.ActionCheckConcurrent,
		DeviceFingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}
	out := &models.Concurrency{Max: resp.MaxSessions, AtCapacity: resp.AtCapacity}
	if resp.ActiveSessions != nil {
		out.Active = *resp.ActiveSessions
	}
	return out, nil
}

func validateRequest(action models.Action, in service.ValidateInput) models.Request {
	return models.Request{
		Action:            action,
		SessionID:         in.SessionID,
		Token:             in.Token,
		DeviceFingerprint: in.Fingerprint,
		UserAgent:         in.UserAgent,
		IPAddress:         in.IPAddress,
	}
}

func issued(resp *models.Response) (*models.Issued, error) {
	if resp.SessionID == "" || resp.Token == "" {
		return nil, dErrors.New(dErrors.CodeDegraded, "session service returned no session")
	}
	out := &models.Issued{
		SessionID:     resp.SessionID,
		Token:         resp.Token,
		SecurityScore: resp.SecurityScore,
		Tier:          resp.SecurityTier,
	}
	if resp.ExpiresAt != nil {
		out.ExpiresAt = *resp.ExpiresAt
	}
	return out, nil
}

// call sends req through the breaker and converts the reply. Only
// successful replies are returned without error.
func (c *Client) call(ctx context.Context, req models.Request) (resp *models.Response, err error) {
	action := string(req.Action)
	ctx, span := c.tracer.Start(ctx, tracer.SpanSessionRemote,
		tracer.String(tracer.AttrAction, action),
		tracer.String(tracer.AttrBreaker, c.breaker.State()),
	)
	defer func() { span.End(err) }()

	r, err := c.breaker.Execute(func() (*reply, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			return nil, dErrors.Wrap(err, dErrors.CodeDegraded, "session service unavailable: circuit open")
		}
		c.logger.WarnContext(ctx, "remote session call failed", "action", action, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeDegraded, "session service unavailable")
	}
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, r.status))

	switch {
	case r.body.Reason != "":
		return nil, models.Deny(r.body.Reason)
	case r.status == http.StatusBadRequest:
		return nil, dErrors.New(dErrors.CodeBadRequest, "session service rejected the request: "+r.body.Error)
	case r.status < 200 || r.status > 299 || !r.body.Success:
		return nil, dErrors.New(dErrors.CodeDegraded, "session service failed: "+r.body.Error)
	}
	return &r.body, nil
}

// send performs one round trip. Transport failures, 5xx without a reason
// and undecodable bodies count against the breaker.
func (c *Client) send(ctx context.Context, req models.Request) (*reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if c.metrics != nil {
		c.metrics.ObserveRemoteCall(string(req.Action), time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("session request: %w", err)
	}
	defer httpResp.Body.Close()

	out := &reply{status: httpResp.StatusCode}
	decodeErr := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseSize)).Decode(&out.body)
	if httpResp.StatusCode >= 500 && out.body.Reason == "" {
		return nil, fmt.Errorf("session request: unexpected status %d", httpResp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode session response: %w", decodeErr)
	}
	return out, nil
}
