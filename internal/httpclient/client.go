// Package httpclient builds the HTTP client used to pull relayed upstream
// streams. Requests go through a per-host circuit breaker so a dead upstream
// is not hammered by every reconcile pass, and connection setup is bounded
// while the response body itself may stream indefinitely.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrCircuitOpen is returned while an upstream host is considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Default configuration values.
const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
)

// Config holds the configuration for the relay client.
type Config struct {
	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout time.Duration

	// CircuitThreshold is the number of consecutive failures before a host's
	// circuit opens.
	CircuitThreshold int

	// CircuitTimeout is how long a circuit stays open before a trial request is let through.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax is the number of trial requests allowed while half-open.
	CircuitHalfOpenMax int

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     DefaultConnectTimeout,
		CircuitThreshold:   DefaultCircuitThreshold,
		CircuitTimeout:     DefaultCircuitTimeout,
		CircuitHalfOpenMax: DefaultCircuitHalfOpenMax,
		Logger:             slog.Default(),
	}
}

// Transport is an http.RoundTripper that guards each upstream host with a
// circuit breaker.
type Transport struct {
	cfg      Config
	base     http.RoundTripper
	breakers *xsync.MapOf[string, *CircuitBreaker]
	logger   *slog.Logger
}

// NewTransport wraps base, or a streaming friendly default transport when
// base is nil.
func NewTransport(cfg Config, base http.RoundTripper) *Transport {
	cfg = withDefaults(cfg)
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ConnectTimeout,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			// audio streams are never compressed and must not be buffered
			DisableCompression: true,
		}
	}
	return &Transport{
		cfg:      cfg,
		base:     base,
		breakers: xsync.NewMapOf[string, *CircuitBreaker](),
		logger:   cfg.Logger,
	}
}

// New returns an *http.Client using a circuit breaking Transport. The client
// has no overall timeout since relayed bodies never end on their own.
func New(cfg Config) *http.Client {
	return &http.Client{Transport: NewTransport(cfg, nil)}
}

func withDefaults(cfg Config) Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = DefaultCircuitThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = DefaultCircuitTimeout
	}
	if cfg.CircuitHalfOpenMax <= 0 {
		cfg.CircuitHalfOpenMax = DefaultCircuitHalfOpenMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Breaker returns the circuit breaker for host, creating it on first use.
func (t *Transport) Breaker(host string) *CircuitBreaker {
	cb, _ := t.breakers.LoadOrCompute(host, func() *CircuitBreaker {
		return NewCircuitBreaker(t.cfg.CircuitThreshold, t.cfg.CircuitTimeout, t.cfg.CircuitHalfOpenMax)
	})
	return cb
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cb := t.Breaker(req.URL.Host)
	if !cb.Allow() {
		t.logger.Debug("circuit breaker open, skipping request",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("state", cb.State().String()),
		)
		return nil, fmt.Errorf("%s: %w", req.URL.Host, ErrCircuitOpen)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		// a caller giving up says nothing about the upstream
		if !errors.Is(err, context.Canceled) {
			cb.RecordFailure()
		}
		t.logger.Warn("upstream request failed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	t.logger.Debug("upstream responded",
		slog.String("url", obfuscateURL(req.URL)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration),
	)
	return resp, nil
}

var _ http.RoundTripper = (*Transport)(nil)

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
}

// obfuscateURL returns u with user info and sensitive query parameters masked.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}
	query := sanitized.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after a run of consecutive failures.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failures        int
	threshold       int
	timeout         time.Duration
	halfOpenMax     int
	halfOpenCount   int
	lastFailureTime time.Time
	now             func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
		now:         time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.halfOpenCount = 0
}

// RecordFailure counts a failure, opening the circuit at the threshold or on
// any failed half-open trial request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
