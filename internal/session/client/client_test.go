package client

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"aegis/internal/session/handler"
	"aegis/internal/session/metrics"
	"aegis/internal/session/models"
	"aegis/internal/session/service"
	"aegis/internal/session/store"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/circuit"
)

const fingerprint = "chrome|120|windows|windows|desktop|en-us|europe/berlin|1920x1080"

// ClientSuite runs the client against the real session endpoint.
//
// Justification: callers rely on the client telling a refusal (reason from
// the service) apart from an outage (degraded); both ends of the wire are
// pinned together here.
type ClientSuite struct {
	suite.Suite
	server  *httptest.Server
	down    atomic.Bool
	calls   atomic.Int32
	metrics *metrics.Metrics
	client  *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc, err := service.New(store.NewInMemoryStore(), service.WithLogger(logger))
	s.Require().NoError(err)

	r := chi.NewRouter()
	handler.New(svc, logger).Register(r)

	s.down.Store(false)
	s.calls.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.calls.Add(1)
		if s.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		r.ServeHTTP(w, req)
	}))
	s.T().Cleanup(s.server.Close)

	s.metrics = metrics.New(prometheus.NewRegistry())
	s.client, err = New(s.server.URL,
		WithLogger(logger),
		WithMetrics(s.metrics),
		WithTimeout(time.Second),
		WithBreaker(circuit.Config{Name: "test", FailureThreshold: 2, Timeout: time.Minute}),
	)
	s.Require().NoError(err)
}

func (s *ClientSuite) create() *models.Issued {
	issued, err := s.client.Create(context.Background(), service.CreateInput{
		Fingerprint: fingerprint,
		UserAgent:   "Mozilla/5.0",
		IPAddress:   "203.0.113.7",
	})
	s.Require().NoError(err)
	return issued
}

func (s *ClientSuite) TestNewRejectsInvalidURL() {
	_, err := New("not a url")
	s.Error(err)
}

func (s *ClientSuite) TestLifecycle() {
	issued := s.create()
	s.NotEmpty(issued.SessionID)
	s.NotEmpty(issued.Token)
	s.Equal(models.TierHigh, issued.Tier)
	s.False(issued.ExpiresAt.IsZero())

	in := service.ValidateInput{SessionID: issued.SessionID, Token: issued.Token, Fingerprint: fingerprint, UserAgent: "Mozilla/5.0"}

	s.Run("validate", func() {
		v, err := s.client.Validate(context.Background(), in)
		s.Require().NoError(err)
		s.Equal(issued.SessionID, v.SessionID)
		s.Equal(100, v.SecurityScore)
	})

	s.Run("rotate issues a new session", func() {
		rotated, err := s.client.Rotate(context.Background(), in)
		s.Require().NoError(err)
		s.NotEqual(issued.SessionID, rotated.SessionID)

		_, err = s.client.Validate(context.Background(), in)
		reason, ok := models.ReasonOf(err)
		s.Require().True(ok)
		s.Equal(models.ReasonInactive, reason)

		in = service.ValidateInput{SessionID: rotated.SessionID, Token: rotated.Token, Fingerprint: fingerprint}
	})

	s.Run("revoke is idempotent", func() {
		s.Require().NoError(s.client.Revoke(context.Background(), in.SessionID, in.Token))
		s.Require().NoError(s.client.Revoke(context.Background(), in.SessionID, in.Token))
	})

	s.Equal(4, testutil.CollectAndCount(s.metrics.RemoteCallDuration), "one series per action")
}

func (s *ClientSuite) TestRefusalsCarryTheRemoteReason() {
	issued := s.create()

	s.Run("fingerprint mismatch", func() {
		_, err := s.client.Validate(context.Background(), service.ValidateInput{
			SessionID:   issued.SessionID,
			Token:       issued.Token,
			Fingerprint: "firefox|115|linux|linux|mobile|fr|europe/paris|390x844",
		})
		reason, ok := models.ReasonOf(err)
		s.Require().True(ok)
		s.Equal(models.ReasonDeviceMismatch, reason)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidated))
	})

	s.Run("device cap", func() {
		s.create()
		s.create()
		_, err := s.client.Create(context.Background(), service.CreateInput{Fingerprint: fingerprint})
		s.True(dErrors.HasCode(err, dErrors.CodeCapacity))

		c, err := s.client.CheckConcurrent(context.Background(), fingerprint)
		s.Require().NoError(err)
		s.Equal(3, c.Active)
		s.True(c.AtCapacity)
	})

	s.Run("malformed request is a bad request, not a refusal", func() {
		_, err := s.client.Validate(context.Background(), service.ValidateInput{SessionID: "not-a-uuid", Token: "t"})
		_, isDenial := models.ReasonOf(err)
		s.False(isDenial)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ClientSuite) TestOutageDegradesAndTripsBreaker() {
	s.down.Store(true)

	for range 2 {
		_, err := s.client.CheckConcurrent(context.Background(), fingerprint)
		s.True(dErrors.HasCode(err, dErrors.CodeDegraded))
		_, isDenial := models.ReasonOf(err)
		s.False(isDenial)
	}
	s.Equal(int32(2), s.calls.Load())

	_, err := s.client.CheckConcurrent(context.Background(), fingerprint)
	s.True(dErrors.HasCode(err, dErrors.CodeDegraded))
	s.ErrorIs(err, circuit.ErrOpen)
	s.Equal(int32(2), s.calls.Load(), "open circuit short-circuits")
}

func (s *ClientSuite) TestRefusalsDoNotTripBreaker() {
	for range 4 {
		_, err := s.client.Validate(context.Background(), service.ValidateInput{
			SessionID: "0b6f1c9e-4f7a-4d35-9c1e-2a9f6c1d8e11",
			Token:     "t",
		})
		reason, _ := models.ReasonOf(err)
		s.Equal(models.ReasonNotFound, reason)
	}
	s.Equal("closed", s.client.breaker.State())
}
