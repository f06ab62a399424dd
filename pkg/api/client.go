package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivesocial/hive_sdk_go/internal/envelope"
	"github.com/hivesocial/hive_sdk_go/internal/httpx"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
)

// DefaultTimeout bounds a request unless the client or request overrides it.
const DefaultTimeout = httpx.DefaultTimeout

// Shape declares how an endpoint wraps its successful response body.
type Shape int

const (
	// ShapeEnvelope expects {success, message, data, errorCode, timestamp}
	// and returns data.
	ShapeEnvelope Shape = iota
	// ShapeRaw returns the body verbatim.
	ShapeRaw
)

// Request is one call against the HIVE API.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    any
	Timeout time.Duration
	Shape   Shape
}

// Response is the decoded outcome of a successful call.
type Response struct {
	Status int
	// Data is the unwrapped payload. It is nil when NoContent is set.
	Data json.RawMessage
	// Message carries the envelope message, if any.
	Message   string
	NoContent bool
}

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
	Breaker      *httpx.BreakerSettings
	HTTPClient   *http.Client
	RoundTripper http.RoundTripper
	Headers      http.Header
	TokenSource  func() string
	Logger       *zerolog.Logger
	Metrics      *metrics.Recorder
}

// BreakerSettings re-exports the circuit breaker configuration.
type BreakerSettings = httpx.BreakerSettings

// Client issues requests against the HIVE backend.
type Client struct {
	http *httpx.Client
}

// New constructs a Client bound to baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	var hopts []httpx.Option
	if opts.HTTPClient != nil {
		hopts = append(hopts, httpx.WithHTTPClient(opts.HTTPClient))
	}
	if opts.RoundTripper != nil {
		hopts = append(hopts, httpx.WithRoundTripper(opts.RoundTripper))
	}
	if opts.Timeout > 0 {
		hopts = append(hopts, httpx.WithTimeout(opts.Timeout))
	}
	if opts.RateLimit > 0 {
		hopts = append(hopts, httpx.WithRateLimit(opts.RateLimit, opts.Burst))
	}
	if opts.Breaker != nil {
		hopts = append(hopts, httpx.WithCircuitBreaker(*opts.Breaker))
	}
	if len(opts.Headers) > 0 {
		hopts = append(hopts, httpx.WithHeaders(opts.Headers))
	}
	if opts.TokenSource != nil {
		hopts = append(hopts, httpx.WithTokenSource(opts.TokenSource))
	}
	if opts.Logger != nil {
		hopts = append(hopts, httpx.WithLogger(opts.Logger.With().Str("component", "transport").Logger()))
	}
	if opts.Metrics != nil {
		hopts = append(hopts, httpx.WithMetrics(opts.Metrics))
	}
	cl, err := httpx.NewClient(baseURL, hopts...)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	return &Client{http: cl}, nil
}

// Send executes req. The returned error is always an *apierr.RequestError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.http == nil {
		return nil, apierr.Unknown(errors.New("api: client is nil"))
	}
	var body []byte
	if req.Body != nil {
		encoded, err := encodeJSON(req.Body)
		if err != nil {
			return nil, apierr.Unknown(fmt.Errorf("api: encode body: %w", err))
		}
		body = encoded
	}

	res, err := c.http.Do(ctx, &httpx.Request{
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
		Header:  req.Header,
		Body:    body,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(res.Body)
	if res.Status == http.StatusNoContent || len(trimmed) == 0 {
		return &Response{Status: res.Status, NoContent: true}, nil
	}

	if req.Shape == ShapeRaw {
		return &Response{Status: res.Status, Data: append(json.RawMessage(nil), trimmed...)}, nil
	}

	env, err := envelope.Decode(trimmed)
	if err != nil {
		return nil, apierr.New(res.Status, apierr.CodeUnknown, "Unexpected response shape", trimmed)
	}
	if !env.Success {
		code := apierr.Code(env.Code())
		if code == "" {
			code = apierr.CodeUnknown
		}
		return nil, apierr.New(res.Status, code, env.Message, trimmed)
	}
	out := &Response{Status: res.Status, Message: env.Message, Data: env.Data}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		out.Data = nil
		out.NoContent = true
	}
	return out, nil
}

// Do sends req and decodes the payload into T. No content yields the zero T.
func Do[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Send(ctx, req)
	if err != nil {
		return out, err
	}
	if resp.NoContent {
		return out, nil
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return out, apierr.New(resp.Status, apierr.CodeUnknown, fmt.Sprintf("decode response: %v", err), resp.Data)
	}
	return out, nil
}

// Get issues a GET against an enveloped endpoint.
func Get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return Do[T](ctx, c, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST with a JSON body.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Do[T](ctx, c, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT with a JSON body.
func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Do[T](ctx, c, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH with a JSON body.
func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return Do[T](ctx, c, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE.
func Delete[T any](ctx context.Context, c *Client, path string) (T, error) {
	return Do[T](ctx, c, Request{Method: http.MethodDelete, Path: path})
}

func encodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
