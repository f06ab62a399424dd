// Package persist saves the successful part of a query cache to Redis and
// restores it on startup, so a restarted client can serve data before its
// first round trip.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

const (
	DefaultPrefix = "hive:query:"
	DefaultTTL    = 24 * time.Hour

	snapshotVersion = 1
)

type snapshot struct {
	Version int                `json:"version"`
	Entries []query.Dehydrated `json:"entries"`
}

// Redis persists query snapshots under a single key.
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// Option configures a Redis persister.
type Option func(*Redis)

// WithTTL sets the snapshot expiry. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the persister logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Redis) { r.logger = l }
}

// NewRedis returns a persister writing to prefix+"snapshot".
func NewRedis(client redis.Cmdable, prefix string, opts ...Option) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	r := &Redis{client: client, key: prefix + "snapshot", ttl: DefaultTTL, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the Redis key holding the snapshot.
func (r *Redis) Key() string { return r.key }

// Encode serializes the cache entries under prefixes.
func Encode(c *query.Client, prefixes ...query.Key) ([]byte, int, error) {
	entries, err := c.Dehydrate(prefixes...)
	if err != nil {
		return nil, 0, err
	}
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Entries: entries})
	if err != nil {
		return nil, 0, fmt.Errorf("persist: encode snapshot: %w", err)
	}
	return data, len(entries), nil
}

// Save writes the successful entries under prefixes, or all of them.
func (r *Redis) Save(ctx context.Context, c *query.Client, prefixes ...query.Key) (int, error) {
	data, n, err := Encode(c, prefixes...)
	if err != nil {
		return 0, err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return 0, fmt.Errorf("persist: save snapshot: %w", err)
	}
	r.logger.Debug().Str("key", r.key).Int("entries", n).Msg("query cache saved")
	return n, nil
}

// Restore hydrates c from the stored snapshot. A missing snapshot is not an
// error.
func (r *Redis) Restore(ctx context.Context, c *query.Client) (int, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persist: load snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		r.logger.Warn().Int("version", snap.Version).Msg("ignoring query cache snapshot with unknown version")
		return 0, nil
	}
	n := c.Hydrate(snap.Entries)
	r.logger.Debug().Str("key", r.key).Int("entries", n).Msg("query cache restored")
	return n, nil
}

// Clear deletes the stored snapshot.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("persist: clear snapshot: %w", err)
	}
	return nil
}
