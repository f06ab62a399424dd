package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
)

type failConfig struct {
	rate float64
	code int
}

var (
	addr     string
	latency  time.Duration
	jitter   time.Duration
	fail     string
	seed     int64
	numPosts int
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "hive-sandbox",
	Short: "Serve an in-memory HIVE backend for local development",
	Long: `hive-sandbox serves the HIVE API from memory with deterministic seed data.
Point a client at it with the printed exports. Latency and failures can be
injected to exercise retries, stale data and optimistic rollbacks.

Example usage:
  hive-sandbox                              # listen on :8787
  hive-sandbox --latency=100ms --jitter=200ms
  hive-sandbox --fail rate=0.2,code=503`,
	SilenceUsage: true,
	RunE:         runSandbox,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8787", "listen address")
	rootCmd.Flags().DurationVar(&latency, "latency", 0, "artificial latency to inject per request")
	rootCmd.Flags().DurationVar(&jitter, "jitter", 0, "extra random latency on top of --latency")
	rootCmd.Flags().StringVar(&fail, "fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	rootCmd.Flags().Int64Var(&seed, "seed", 1, "seed for generated data and failure injection")
	rootCmd.Flags().IntVar(&numPosts, "posts", 45, "number of generated posts")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSandbox(cmd *cobra.Command, _ []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := log.Logger.Level(level)

	failCfg, err := parseFailConfig(fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	backend := mockapi.New(mockapi.Options{
		Latency:    latency,
		Jitter:     jitter,
		ErrorRate:  failCfg.rate,
		FailStatus: failCfg.code,
		Seed:       seed,
		Posts:      numPosts,
		Logger:     logger,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           newHandler(backend, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("hive-sandbox listening")
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	for _, line := range exportLines(addr) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// newHandler serves the backend plus /metrics, recording every API request.
func newHandler(backend http.Handler, reg *prometheus.Registry, logger zerolog.Logger) http.Handler {
	rec := metrics.New(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		backend.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		rec.ObserveRequest(r.Method, statusCode(sw.status), elapsed)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Msg("request served")
	}))
	return mux
}

// statusCode labels a response the way the client transport does.
func statusCode(status int) string {
	if status < http.StatusBadRequest {
		return "OK"
	}
	return string(apierr.CodeForStatus(status, ""))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func exportLines(listen string) []string {
	host := listen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return []string{
		"export HIVE_RUNTIME_MODE=http",
		fmt.Sprintf("export HIVE_API_URL=http://%s/api", host),
	}
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	var cfg failConfig
	parts := strings.Split(raw, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			if val < 0 || val > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0, 1]", val)
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}
