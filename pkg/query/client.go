package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
)

// Fetcher loads the data for one key. Its context is owned by the client,
// not by the caller that triggered the fetch, so a caller giving up does not
// abort a fetch other callers are sharing.
type Fetcher func(ctx context.Context) (any, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithStore uses s instead of a fresh store.
func WithStore(s *Store) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithLogger sets the client logger. The default discards everything.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records cache and fetch activity.
func WithMetrics(m *metrics.Recorder) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithSleep replaces the wait used between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

type registration struct {
	key   Key
	fetch Fetcher
	cfg   queryConfig
}

// Client runs queries against a Store: it deduplicates concurrent fetches,
// retries retryable failures, serves stale data while revalidating and
// discards results that were superseded while in flight.
type Client struct {
	store   *Store
	policy  Policy
	logger  zerolog.Logger
	metrics *metrics.Recorder
	sleep   func(context.Context, time.Duration) error
	group   singleflight.Group
	gate    *gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queries map[string]registration
	janitor bool
	closed  bool
}

// NewClient builds a query client with DefaultPolicy unless overridden.
func NewClient(opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		policy:  DefaultPolicy(),
		logger:  zerolog.Nop(),
		sleep:   sleepContext,
		gate:    newGate(),
		ctx:     ctx,
		cancel:  cancel,
		queries: make(map[string]registration),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.store == nil {
		c.store = NewStore()
	}
	c.policy = c.policy.normalized()
	return c
}

// Store exposes the underlying cache.
func (c *Client) Store() *Store { return c.store }

// Policy returns the effective client policy.
func (c *Client) Policy() Policy { return c.policy }

// Fetch returns the entry for key, loading it with fetch when needed.
//
// Fresh data is returned without a fetch. Stale data is returned at once,
// marked pending, while a background revalidation runs. Without data the
// call waits for the shared fetch, including its retries, or for ctx.
func (c *Client) Fetch(ctx context.Context, key Key, fetch Fetcher, opts ...Option) (Entry, error) {
	if fetch == nil {
		return Entry{}, apierr.Unknown(errors.New("query: nil fetcher"))
	}
	cfg := c.policy.config(opts)
	c.register(key, fetch, cfg)

	if entry, ok := c.store.Get(key); ok && entry.HasData() {
		if !entry.IsStale(c.store.Now(), cfg.staleTime) {
			c.metrics.CacheLookup("fresh")
			return entry, nil
		}
		c.metrics.CacheLookup("stale")
		c.revalidate(key)
		entry, _ = c.store.Get(key)
		return entry, nil
	}

	c.metrics.CacheLookup("miss")
	return c.await(ctx, key, c.start(key))
}

// Prefetch warms key without returning its data.
func (c *Client) Prefetch(ctx context.Context, key Key, fetch Fetcher, opts ...Option) error {
	_, err := c.Fetch(ctx, key, fetch, opts...)
	return err
}

// Refetch forces a fetch of key with its registered fetcher, ignoring
// freshness, and waits for it.
func (c *Client) Refetch(ctx context.Context, key Key) (Entry, error) {
	if _, ok := c.registration(key); !ok {
		return Entry{}, apierr.Unknown(fmt.Errorf("query: no fetcher registered for %s", key))
	}
	return c.await(ctx, key, c.start(key))
}

// GetQueryData returns the cached data for key.
func (c *Client) GetQueryData(key Key) (any, bool) {
	entry, ok := c.store.Get(key)
	if !ok || !entry.HasData() {
		return nil, false
	}
	return entry.Data, true
}

// SetQueryData writes fn(old) to key as a successful result. A nil result
// leaves the entry untouched.
func (c *Client) SetQueryData(key Key, fn func(old any) any) {
	now := c.store.Now()
	c.store.Patch(key, func(e *Entry) {
		next := fn(e.Data)
		if next == nil {
			return
		}
		e.Data = next
		e.UpdatedAt = now
		e.Invalidated = false
		if e.Status != StatusPending {
			e.Status = StatusSuccess
			e.Err = nil
		}
	})
}

// SetQueriesData applies fn to every cached key under prefix that holds
// data. It returns the number of keys updated.
func (c *Client) SetQueriesData(prefix Key, fn func(old any) any) int {
	n := 0
	for _, key := range c.store.KeysMatching(Matching(prefix)) {
		if _, ok := c.GetQueryData(key); !ok {
			continue
		}
		c.SetQueryData(key, fn)
		n++
	}
	return n
}

// Invalidate marks every key under the prefixes stale and revalidates the
// ones with subscribers. Unobserved keys refetch on their next read.
func (c *Client) Invalidate(prefixes ...Key) int {
	keys := c.store.KeysMatching(Matching(prefixes...))
	for _, key := range keys {
		c.store.Patch(key, func(e *Entry) { e.Invalidated = true })
		if entry, ok := c.store.Get(key); ok && entry.SubscriberCount > 0 {
			if _, registered := c.registration(key); registered {
				c.revalidate(key)
			}
		}
	}
	if len(keys) > 0 {
		c.logger.Debug().Int("keys", len(keys)).Msg("queries invalidated")
	}
	return len(keys)
}

// CancelQueries supersedes in-flight fetches under the prefixes. Their
// results are discarded when they land and pending entries revert to their
// previous status.
func (c *Client) CancelQueries(prefixes ...Key) int {
	n := 0
	for _, key := range c.store.KeysMatching(Matching(prefixes...)) {
		if c.store.cancel(key) {
			n++
		}
	}
	return n
}

// RemoveQueries drops every key under the prefixes.
func (c *Client) RemoveQueries(prefixes ...Key) int {
	n := 0
	for _, key := range c.store.KeysMatching(Matching(prefixes...)) {
		if c.store.Delete(key) {
			n++
		}
	}
	c.metrics.SetEntries(c.store.Len())
	return n
}

// Clear empties the cache.
func (c *Client) Clear() {
	c.store.Clear()
	c.metrics.SetEntries(c.store.Len())
}

// OnFocus refetches stale observed queries when the policy asks for it.
func (c *Client) OnFocus() int {
	if !c.policy.RefetchOnFocus {
		return 0
	}
	return c.refetchActive("focus")
}

// OnReconnect refetches stale observed queries when the policy asks for it.
func (c *Client) OnReconnect() int {
	if !c.policy.RefetchOnReconnect {
		return 0
	}
	return c.refetchActive("reconnect")
}

func (c *Client) refetchActive(reason string) int {
	now := c.store.Now()
	n := 0
	for _, key := range c.store.KeysMatching(nil) {
		reg, ok := c.registration(key)
		if !ok {
			continue
		}
		entry, ok := c.store.Get(key)
		if !ok || entry.SubscriberCount == 0 || !entry.IsStale(now, reg.cfg.staleTime) {
			continue
		}
		c.revalidate(key)
		n++
	}
	c.logger.Debug().Str("reason", reason).Int("queries", n).Msg("refetching active queries")
	return n
}

// Sweep evicts idle entries past the GC window.
func (c *Client) Sweep() int {
	evicted := c.store.Sweep(c.policy.GCTime)
	if len(evicted) > 0 {
		c.mu.Lock()
		for _, key := range evicted {
			delete(c.queries, key.Hash())
		}
		c.mu.Unlock()
		c.logger.Debug().Int("evicted", len(evicted)).Msg("cache sweep")
	}
	c.metrics.Evict(len(evicted))
	c.metrics.SetEntries(c.store.Len())
	return len(evicted)
}

// Start runs Sweep every interval until Close. A non-positive interval uses
// a quarter of the GC window.
func (c *Client) Start(interval time.Duration) {
	if interval <= 0 {
		interval = c.policy.GCTime / 4
	}
	c.mu.Lock()
	if c.janitor || c.closed {
		c.mu.Unlock()
		return
	}
	c.janitor = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Close cancels in-flight fetches and stops the janitor.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Client) register(key Key, fetch Fetcher, cfg queryConfig) {
	c.mu.Lock()
	c.queries[key.Hash()] = registration{key: key, fetch: fetch, cfg: cfg}
	c.mu.Unlock()
}

func (c *Client) registration(key Key) (registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.queries[key.Hash()]
	return reg, ok
}

// start joins or begins the fetch for key. The generation is taken before
// returning so a later cancel reliably supersedes it.
func (c *Client) start(key Key) <-chan singleflight.Result {
	reg, _ := c.registration(key)
	gen := c.store.beginFetch(key)
	flight := key.Hash() + "@" + strconv.FormatUint(gen, 10)
	return c.group.DoChan(flight, func() (any, error) {
		return c.run(key, reg.fetch, reg.cfg, gen, true)
	})
}

func (c *Client) revalidate(key Key) {
	ch := c.start(key)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := <-ch
		if res.Err != nil {
			c.logger.Debug().Err(res.Err).Str("key", key.String()).Msg("background revalidation failed")
		}
	}()
}

func (c *Client) await(ctx context.Context, key Key, ch <-chan singleflight.Result) (Entry, error) {
	select {
	case res := <-ch:
		entry, _ := c.store.Get(key)
		if res.Err != nil {
			return entry, apierr.Classify(res.Err)
		}
		return entry, nil
	case <-ctx.Done():
		entry, _ := c.store.Get(key)
		return entry, apierr.Classify(ctx.Err())
	}
}

// run executes one fetch generation with retries. replace distinguishes a
// full refresh from an append such as loading the next page.
func (c *Client) run(key Key, fetch Fetcher, cfg queryConfig, gen uint64, replace bool) (any, error) {
	if replace && !c.store.claim(key, gen) {
		entry, _ := c.store.Get(key)
		if entry.Err != nil && !entry.HasData() {
			return nil, entry.Err
		}
		return entry.Data, nil
	}
	if fetch == nil {
		err := apierr.Unknown(fmt.Errorf("query: no fetcher registered for %s", key))
		c.store.settle(key, gen, replace, func(e *Entry) { e.Err = err; e.Status = StatusError })
		return nil, err
	}

	ctx := c.ctx
	log := c.logger.With().Str("key", key.String()).Logger()
	for retries := 0; ; retries++ {
		data, err := fetch(ctx)
		if err == nil {
			now := c.store.Now()
			applied := c.store.settle(key, gen, replace, func(e *Entry) {
				e.Data = mergeResult(data, e.Data)
				e.Err = nil
				e.Status = StatusSuccess
				e.UpdatedAt = now
				e.RetryCount = 0
				e.Invalidated = false
			})
			c.settled(log, applied, "success")
			return data, nil
		}

		reqErr := apierr.Classify(err)
		if ctx.Err() == nil && shouldRetry(cfg.maxRetries, retries, reqErr) {
			if !c.store.settle(key, gen, false, func(e *Entry) { e.RetryCount = retries + 1 }) {
				c.settled(log, false, "error")
				return nil, reqErr
			}
			delay := c.policy.RetryDelay(retries)
			c.metrics.Retry()
			log.Debug().Err(reqErr).Int("retry", retries+1).Dur("delay", delay).Msg("retrying fetch")
			if c.sleep(ctx, delay) == nil {
				continue
			}
			reqErr = apierr.Classify(ctx.Err())
		}

		now := c.store.Now()
		applied := c.store.settle(key, gen, replace, func(e *Entry) {
			e.Err = reqErr
			e.Status = StatusError
			e.ErrUpdatedAt = now
			e.RetryCount = retries
		})
		c.settled(log, applied, "error")
		if applied {
			log.Debug().Err(reqErr).Int("retries", retries).Msg("fetch failed")
		}
		return nil, reqErr
	}
}

func (c *Client) settled(log zerolog.Logger, applied bool, outcome string) {
	if !applied {
		c.metrics.Discard()
		log.Debug().Msg("discarding superseded fetch result")
		return
	}
	c.metrics.Fetch(outcome)
	c.metrics.SetEntries(c.store.Len())
}

// merger lets a fetch result combine with the entry's current data at
// settle time instead of replacing it.
type merger interface {
	mergeInto(prev any) any
}

func mergeResult(data, prev any) any {
	if m, ok := data.(merger); ok {
		return m.mergeInto(prev)
	}
	return data
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer is a live subscription to one key.
type Observer struct {
	c        *Client
	key      Key
	sub      *Subscription
	closed   atomic.Bool
	listener Listener
}

// Watch subscribes listener to key and triggers a fetch when the key has no
// fresh data. The listener receives every entry change until Close.
func (c *Client) Watch(key Key, fetch Fetcher, listener Listener, opts ...Option) *Observer {
	cfg := c.policy.config(opts)
	if fetch != nil {
		c.register(key, fetch, cfg)
	}
	o := &Observer{c: c, key: append(Key(nil), key...), listener: listener}
	o.sub = c.store.Subscribe(key, o.notify)

	entry, _ := c.store.Get(key)
	if fetch != nil && (!entry.HasData() || entry.IsStale(c.store.Now(), cfg.staleTime)) {
		c.revalidate(key)
	}
	return o
}

func (o *Observer) notify(e Entry) {
	if o.closed.Load() || o.listener == nil {
		return
	}
	o.listener(e)
}

// Key returns the observed key.
func (o *Observer) Key() Key { return o.key }

// Current returns the entry as it is now.
func (o *Observer) Current() Entry {
	entry, _ := o.c.store.Get(o.key)
	return entry
}

// Refetch forces a fetch and waits for it.
func (o *Observer) Refetch(ctx context.Context) (Entry, error) {
	return o.c.Refetch(ctx, o.key)
}

// Close unsubscribes. No callbacks are delivered afterwards.
func (o *Observer) Close() {
	if o.closed.Swap(true) {
		return
	}
	o.sub.Unsubscribe()
}
