// Package breach checks passwords against a k-anonymity range API.
//
// Only the first five hex characters of the password's SHA-1 leave the
// process. The corpus answers with every suffix sharing that prefix and the
// match happens locally. Range responses are cached per prefix.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is what the range protocol is keyed on
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"aegis/internal/password/metrics"
	"aegis/internal/platform/tracer"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/circuit"
)

const (
	prefixLength    = 5
	maxResponseSize = 1 << 20
	userAgent       = "aegis-breach-check"
)

// HTTPDoer is the part of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Result struct {
	Breached bool
	Count    int
	Cached   bool
}

type Client struct {
	baseURL string
	http    HTTPDoer
	timeout time.Duration
	cache   *expirable.LRU[string, map[string]int]
	breaker *circuit.Breaker[map[string]int]
	cbCfg   circuit.Config
	flight  singleflight.Group
	tracer  tracer.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
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

// WithCache sizes the prefix cache. Entries expire after ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size > 0 && ttl > 0 {
			c.cache = expirable.NewLRU[string, map[string]int](size, nil, ttl)
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
		return nil, fmt.Errorf("breach: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 5 * time.Second,
		cache:   expirable.NewLRU[string, map[string]int](256, nil, 5*time.Minute),
		cbCfg:   circuit.DefaultConfig("breach-range"),
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	c.breaker = circuit.New[map[string]int](c.cbCfg,
		circuit.WithLogger(c.logger),
		// A caller hanging up says nothing about the corpus.
		circuit.WithSuccessClassifier(func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}),
	)
	return c, nil
}

// Lookup reports whether password appears in the corpus. Every failure is
// a CodeDegraded domain error; callers treat it as "could not verify".
func (c *Client) Lookup(ctx context.Context, password string) (result Result, err error) {
	prefix, suffix := split(password)

	ctx, span := c.tracer.Start(ctx, tracer.SpanBreachLookup, tracer.String(tracer.AttrPrefix, prefix))
	defer func() { span.End(err) }()

	suffixes, cached := c.cache.Get(prefix)
	c.observeCache(cached)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, cached))
	if !cached {
		suffixes, err = c.fetchShared(ctx, prefix)
		if err != nil {
			return Result{}, err
		}
		c.cache.Add(prefix, suffixes)
	}

	count := suffixes[suffix]
	outcome := "clean"
	if count > 0 {
		outcome = "breached"
	}
	c.observeLookup(outcome)
	return Result{Breached: count > 0, Count: count, Cached: cached}, nil
}

// fetchShared collapses concurrent misses for one prefix into a single
// remote call.
func (c *Client) fetchShared(ctx context.Context, prefix string) (map[string]int, error) {
	v, err, _ := c.flight.Do(prefix, func() (any, error) {
		return c.breaker.Execute(func() (map[string]int, error) {
			return c.fetch(ctx, prefix)
		})
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			c.observeLookup("circuit_open")
			return nil, dErrors.Wrap(err, dErrors.CodeDegraded, "breach check unavailable: circuit open")
		}
		c.observeLookup("error")
		c.logger.WarnContext(ctx, "breach range lookup failed", "error", err, "prefix", prefix)
		return nil, dErrors.Wrap(err, dErrors.CodeDegraded, "breach check unavailable")
	}
	return v.(map[string]int), nil
}

func (c *Client) fetch(ctx context.Context, prefix string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveBreachLatency(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("range request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("range request: unexpected status %d", resp.StatusCode)
	}
	return parseRange(io.LimitReader(resp.Body, maxResponseSize))
}

// parseRange reads SUFFIX:COUNT lines. Padding entries (count 0) and
// malformed lines are skipped.
func parseRange(r io.Reader) (map[string]int, error) {
	out := make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		suffix, countStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil || count <= 0 {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(suffix))] = count
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read range response: %w", err)
	}
	return out, nil
}

// split hashes password and returns the 5-character prefix sent to the
// corpus and the suffix matched locally, both upper-case hex.
func split(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password)) //nolint:gosec
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return h[:prefixLength], h[prefixLength:]
}

func (c *Client) observeCache(hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveCache(hit)
	}
}

func (c *Client) observeLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.IncrementBreachLookup(outcome)
	}
}
