package query

import (
	"time"

	"github.com/hivesocial/hive_sdk_go/internal/httpx"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
)

const (
	DefaultStaleTime  = 2 * time.Minute
	DefaultGCTime     = 10 * time.Minute
	DefaultMaxRetries = 3
)

// Policy holds the client-wide cache and retry defaults.
type Policy struct {
	// StaleTime is how long a successful result counts as fresh.
	StaleTime time.Duration
	// GCTime is how long an entry without subscribers survives.
	GCTime time.Duration
	// MaxRetries caps automatic retries of a failed query fetch.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64

	RefetchOnFocus     bool
	RefetchOnReconnect bool

	backoff httpx.Backoff
}

// DefaultPolicy returns the stock configuration: fresh for two minutes,
// collected after ten idle minutes, three retries backing off from one second
// to thirty with quarter jitter, refetch on reconnect but not on focus.
func DefaultPolicy() Policy {
	return Policy{
		StaleTime:          DefaultStaleTime,
		GCTime:             DefaultGCTime,
		MaxRetries:         DefaultMaxRetries,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      30 * time.Second,
		RetryJitter:        0.25,
		RefetchOnFocus:     false,
		RefetchOnReconnect: true,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.StaleTime < 0 {
		p.StaleTime = 0
	}
	if p.GCTime <= 0 {
		p.GCTime = def.GCTime
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = def.RetryBaseDelay
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = def.RetryMaxDelay
	}
	p.backoff = httpx.NewBackoff(p.RetryBaseDelay, p.RetryMaxDelay, p.RetryJitter)
	return p
}

// ShouldRetry reports whether a fetch that has already been retried
// retriesSoFar times may be retried after err. Only retryable errors
// qualify.
func (p Policy) ShouldRetry(retriesSoFar int, err error) bool {
	return shouldRetry(p.MaxRetries, retriesSoFar, err)
}

// RetryDelay returns the wait before retry number attempt (zero-based):
// min(base * 2^attempt, max), jittered.
func (p Policy) RetryDelay(attempt int) time.Duration {
	if p.backoff.MaxDelay == 0 {
		p = p.normalized()
	}
	return p.backoff.ForAttempt(attempt)
}

func shouldRetry(maxRetries, retriesSoFar int, err error) bool {
	if err == nil || retriesSoFar >= maxRetries {
		return false
	}
	reqErr := apierr.Classify(err)
	return reqErr != nil && reqErr.Retryable()
}

// Option overrides the policy for a single query.
type Option func(*queryConfig)

type queryConfig struct {
	staleTime  time.Duration
	maxRetries int
}

// WithStaleTime overrides how long this query's data counts as fresh.
func WithStaleTime(d time.Duration) Option {
	return func(c *queryConfig) {
		if d >= 0 {
			c.staleTime = d
		}
	}
}

// WithRetries overrides the retry cap for this query.
func WithRetries(n int) Option {
	return func(c *queryConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithoutRetry disables automatic retries for this query.
func WithoutRetry() Option { return WithRetries(0) }

func (p Policy) config(opts []Option) queryConfig {
	cfg := queryConfig{staleTime: p.StaleTime, maxRetries: p.MaxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
