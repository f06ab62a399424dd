package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hivesocial/hive_sdk_go/internal/envelope"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
)

// DefaultTimeout bounds every request unless overridden.
const DefaultTimeout = 30 * time.Second

// BreakerSettings configures the optional circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker after this many retryable failures.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRoundTripper serves requests through rt, e.g. an in-process handler.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient = &http.Client{Transport: rt}
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker fails fast once the backend keeps failing transiently.
func WithCircuitBreaker(s BreakerSettings) Option {
	return func(c *Client) {
		c.breakerSettings = &s
	}
}

// WithTokenSource attaches "Authorization: Bearer <token>" when fn returns a
// non-empty token.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client wraps http.Client with base URL resolution, timeouts and error
// normalization. Every error it returns is an *apierr.RequestError.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	timeout    time.Duration
	limiter    *rate.Limiter
	token      func() string
	logger     zerolog.Logger
	metrics    *metrics.Recorder

	breakerSettings *BreakerSettings
	breaker         *gobreaker.CircuitBreaker
}

// Request describes a single outbound request.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Result is a successful (2xx) response with its body fully read.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpx: base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{},
		headers:    make(http.Header),
		timeout:    DefaultTimeout,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if s := c.breakerSettings; s != nil {
		if s.ConsecutiveFailures == 0 {
			s.ConsecutiveFailures = 5
		}
		if s.OpenTimeout <= 0 {
			s.OpenTimeout = 30 * time.Second
		}
		if s.HalfOpenRequests == 0 {
			s.HalfOpenRequests = 1
		}
		threshold := s.ConsecutiveFailures
		logger := c.logger
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        parsed.Host,
			MaxRequests: s.HalfOpenRequests,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !apierr.Classify(err).Retryable()
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		})
	}
	return c, nil
}

// Do executes req. Non-2xx responses, timeouts and transport failures are all
// returned as *apierr.RequestError.
func (c *Client) Do(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, apierr.Unknown(errors.New("httpx: request is nil"))
	}
	if req.Method == "" {
		return nil, apierr.Unknown(errors.New("httpx: HTTP method is required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := c.execute(reqCtx, req)
	if err != nil {
		err = c.normalize(ctx, reqCtx, err)
	}

	code := "OK"
	if err != nil {
		code = string(apierr.Classify(err).Code())
	}
	c.metrics.ObserveRequest(req.Method, code, time.Since(start))
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("code", code).
		Dur("elapsed", time.Since(start)).
		Msg("request settled")

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) execute(ctx context.Context, req *Request) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait refuses early when the token would arrive after the deadline.
			if ctxErr := ctx.Err(); ctxErr == nil || errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, apierr.Timeout(err)
			}
			return nil, err
		}
	}
	if c.breaker == nil {
		return c.roundTrip(ctx, req)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apierr.Network(err)
		}
		return nil, err
	}
	return out.(*Result), nil
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Result, error) {
	fullURL, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, apierr.Unknown(err)
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, apierr.Unknown(err)
	}

	httpReq.Header = cloneHeader(c.headers)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != nil {
		if token := c.token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	data, err := ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, data)
	}
	return &Result{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// normalize maps a raw failure to a RequestError, separating our own timeout
// from cancellation by the caller.
func (c *Client) normalize(parent, reqCtx context.Context, err error) error {
	if reqErr, ok := apierr.As(err); ok {
		return reqErr
	}
	if parentErr := parent.Err(); parentErr != nil {
		return apierr.Classify(parentErr)
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return apierr.Timeout(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Timeout(err)
	}
	return apierr.Network(err)
}

func statusError(status int, body []byte) *apierr.RequestError {
	message, backendCode := envelope.ErrorDetails(body)
	return apierr.New(status, apierr.CodeForStatus(status, backendCode), message, body)
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", err
	}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String(), nil
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}
