package hive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hivesocial/hive_sdk_go/internal/config"
	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/auth"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
	"github.com/hivesocial/hive_sdk_go/pkg/query/persist"
	"github.com/hivesocial/hive_sdk_go/pkg/users"
)

// Config is the runtime configuration.
type Config = config.Config

const (
	ModeHTTP = config.ModeHTTP
	ModeMock = config.ModeMock
)

// mockBaseURL addresses the in-process backend. Nothing listens on it.
const mockBaseURL = "http://hive.mock/api"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// ConfigFromEnv reads path, or the file named by HIVE_CONFIG when path is
// empty, and applies the HIVE_* environment overrides.
func ConfigFromEnv(path string) (Config, error) { return config.FromFileAndEnv(path) }

// Option customises a Runtime.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	registerer prometheus.Registerer
	redis      redis.Cmdable
	httpClient *http.Client
}

// WithLogger sets the logger shared by every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the client metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRedis persists the cache through client instead of dialing
// persist.redis_addr.
func WithRedis(client redis.Cmdable) Option {
	return func(o *options) { o.redis = client }
}

// WithHTTPClient overrides the HTTP client used in http mode.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Runtime is a fully wired HIVE client.
type Runtime struct {
	Mode    string
	API     *api.Client
	Queries *query.Client
	Tokens  *auth.Tokens
	Metrics *metrics.Recorder

	Auth  *auth.Service
	Feed  *feed.Service
	Posts *posts.Service
	Users *users.Service

	// Mock is the in-process backend in mock mode, nil otherwise.
	Mock *mockapi.Server

	persister *persist.Redis
	ownRedis  *redis.Client
	logger    zerolog.Logger
}

// NewFromEnv builds a Runtime from HIVE_CONFIG and the HIVE_* environment
// overrides. HIVE_RUNTIME_MODE selects the backend: "http" requires
// HIVE_API_URL, "mock" serves everything in process, and "auto" (the
// default) picks http when a URL is configured.
func NewFromEnv(opts ...Option) (*Runtime, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("hive: %w", err)
	}
	return New(cfg, opts...)
}

// New builds a Runtime from cfg.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hive: %w", err)
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Level(cfg.Log.ParsedLevel())

	rt := &Runtime{
		Tokens:  &auth.Tokens{},
		Metrics: metrics.New(o.registerer),
		logger:  logger,
	}

	apiOpts := api.Options{
		Timeout:     cfg.API.Timeout,
		RateLimit:   cfg.API.RateLimit,
		Burst:       cfg.API.Burst,
		Breaker:     cfg.Breaker.Settings(),
		HTTPClient:  o.httpClient,
		TokenSource: rt.Tokens.Token,
		Logger:      &logger,
		Metrics:     rt.Metrics,
	}
	baseURL := cfg.API.BaseURL
	switch resolveMode(cfg) {
	case ModeHTTP:
		rt.Mode = ModeHTTP
	default:
		rt.Mode = ModeMock
		rt.Mock = mockapi.New(mockapi.Options{
			Latency:   cfg.Mock.Latency,
			Jitter:    cfg.Mock.Jitter,
			ErrorRate: cfg.Mock.ErrorRate,
			Seed:      cfg.Mock.Seed,
			Logger:    logger.With().Str("component", "mockapi").Logger(),
		})
		apiOpts.HTTPClient = nil
		apiOpts.RoundTripper = rt.Mock.Transport()
		baseURL = mockBaseURL
	}

	transport, err := api.New(baseURL, apiOpts)
	if err != nil {
		return nil, fmt.Errorf("hive: init %s transport: %w", rt.Mode, err)
	}
	rt.API = transport
	rt.Queries = query.NewClient(
		query.WithPolicy(cfg.Cache.Policy()),
		query.WithLogger(logger),
		query.WithMetrics(rt.Metrics),
	)
	if cfg.Cache.SweepInterval > 0 {
		rt.Queries.Start(cfg.Cache.SweepInterval)
	}

	rt.Auth = auth.NewService(transport, rt.Queries, rt.Tokens)
	rt.Feed = feed.NewService(transport, rt.Queries)
	rt.Posts = posts.NewService(transport, rt.Queries)
	rt.Users = users.NewService(transport, rt.Queries)

	store := o.redis
	if store == nil && cfg.Persist.RedisAddr != "" {
		rt.ownRedis = redis.NewClient(&redis.Options{
			Addr:     cfg.Persist.RedisAddr,
			Password: cfg.Persist.Password,
			DB:       cfg.Persist.DB,
		})
		store = rt.ownRedis
	}
	if store != nil {
		rt.persister = persist.NewRedis(store, cfg.Persist.Prefix,
			persist.WithTTL(cfg.Persist.TTL),
			persist.WithLogger(logger),
		)
	}

	logger.Info().Str("mode", rt.Mode).Bool("persist", rt.persister != nil).Msg("hive runtime ready")
	return rt, nil
}

func resolveMode(cfg Config) string {
	switch cfg.Mode {
	case ModeHTTP:
		return ModeHTTP
	case ModeMock:
		return ModeMock
	default:
		if cfg.API.BaseURL != "" {
			return ModeHTTP
		}
		return ModeMock
	}
}

// Persistent reports whether a cache persister is configured.
func (r *Runtime) Persistent() bool { return r.persister != nil }

// Restore hydrates the cache from the persisted snapshot. It is a no-op
// without a persister.
func (r *Runtime) Restore(ctx context.Context) (int, error) {
	if r.persister == nil {
		return 0, nil
	}
	return r.persister.Restore(ctx, r.Queries)
}

// Save writes the successful cache entries to the persister.
func (r *Runtime) Save(ctx context.Context) (int, error) {
	if r.persister == nil {
		return 0, nil
	}
	return r.persister.Save(ctx, r.Queries)
}

// Close saves the cache when persistent, stops background work and releases
// the Redis connection the runtime dialed itself.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if _, err := r.Save(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("cache snapshot not saved")
		firstErr = err
	}
	r.Queries.Close()
	if r.ownRedis != nil {
		if err := r.ownRedis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
