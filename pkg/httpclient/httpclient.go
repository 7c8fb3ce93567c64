// Package httpclient provides a resilient HTTP client with a circuit
// breaker and automatic retries with exponential backoff.
//
// The client wraps the standard http.Client. Failed requests (transport
// errors and 5xx responses) are retried up to a configured number of
// attempts; repeated failures open the circuit, after which requests fail
// fast until the cooldown elapses and a probe request is allowed through.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultCircuitThreshold  = 5
	DefaultCircuitTimeout    = 30 * time.Second
	DefaultUserAgent         = "clipdock-httpclient/1.0"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration
	// RetryAttempts is the number of additional attempts after the first.
	RetryAttempts int
	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration
	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64
	// CircuitThreshold is the number of consecutive failures before the
	// circuit opens.
	CircuitThreshold int
	// CircuitTimeout is how long the circuit stays open before a probe
	// request is allowed.
	CircuitTimeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Logger receives request/retry/breaker events. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		CircuitThreshold:  DefaultCircuitThreshold,
		CircuitTimeout:    DefaultCircuitTimeout,
		UserAgent:         DefaultUserAgent,
	}
}

// CircuitState describes the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests.
	StateClosed CircuitState = iota
	// StateOpen fails all requests fast.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures and gates requests.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	threshold   int
	cooldown    time.Duration
	openedAt    time.Time
	probeInUse  bool
	totalTrips  int64
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures and stays open for cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitTimeout
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.probeInUse = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInUse {
			return false
		}
		cb.probeInUse = true
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful request and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0
	cb.state = StateClosed
	cb.probeInUse = false
}

// RecordFailure notes a failed request, opening the circuit when the
// threshold is reached or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		if cb.state != StateOpen {
			cb.totalTrips++
		}
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.probeInUse = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a snapshot of breaker counters for health reporting.
type Stats struct {
	State       CircuitState `json:"-"`
	StateName   string       `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	Trips       int64        `json:"trips"`
	LastFailure time.Time    `json:"lastFailure,omitzero"`
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:       cb.state,
		StateName:   cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		Trips:       cb.totalTrips,
		LastFailure: cb.lastFailure,
	}
}

// Client is a resilient HTTP client.
type Client struct {
	http    *http.Client
	cfg     Config
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a Client from the given configuration.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout),
		logger:  logger.With("component", "httpclient"),
	}
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Do executes the request with retries and circuit breaking. The request
// must have a GetBody function (or no body) so it can be replayed.
// A non-5xx response is returned as-is; callers own the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(req.Context(), delay); err != nil {
				c.breaker.RecordFailure()
				return nil, err
			}
			delay = min(time.Duration(float64(delay)*c.cfg.BackoffMultiplier), c.cfg.RetryMaxDelay)

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					c.breaker.RecordFailure()
					return nil, fmt.Errorf("replaying request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Debug("request attempt failed",
				slog.String("url", req.URL.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			c.logger.Debug("request attempt failed",
				slog.String("url", req.URL.String()),
				slog.Int("attempt", attempt+1),
				slog.Int("status", resp.StatusCode),
			)
			continue
		}

		c.breaker.RecordSuccess()
		return resp, nil
	}

	c.breaker.RecordFailure()
	if c.breaker.State() == StateOpen {
		c.logger.Warn("circuit breaker opened",
			slog.String("url", req.URL.String()),
		)
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
