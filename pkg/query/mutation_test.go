package query_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

type post struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

var feedKey = query.Key{"feed", "infinite", map[string]int{"limit": 20}}

func seedFeed(c *query.Client, now time.Time) {
	c.Store().Set(feedKey, query.Entry{
		Data: query.InfiniteData[post]{
			Pages:      []query.CursorPage[post]{{Items: []post{{ID: "p1", Content: "first"}}}},
			PageParams: []string{""},
		},
		Status:    query.StatusSuccess,
		UpdatedAt: now,
	})
}

func prependToFeed(tx *query.Tx, p post) {
	tx.SetQueriesData(query.Key{"feed"}, func(old any) any {
		data, ok := query.DataAs[query.InfiniteData[post]](old)
		if !ok || len(data.Pages) == 0 {
			return nil
		}
		pages := append([]query.CursorPage[post](nil), data.Pages...)
		head := pages[0]
		head.Items = append([]post{p}, head.Items...)
		pages[0] = head
		data.Pages = pages
		return data
	})
}

func feedHead(t *testing.T, c *query.Client) post {
	t.Helper()
	data, ok := c.GetQueryData(feedKey)
	require.True(t, ok)
	feed, ok := query.DataAs[query.InfiniteData[post]](data)
	require.True(t, ok)
	require.NotEmpty(t, feed.Pages)
	require.NotEmpty(t, feed.Pages[0].Items)
	return feed.Pages[0].Items[0]
}

func TestOptimisticCreateRollsBackOnNetworkError(t *testing.T) {
	clock := newClock()
	reg := metrics.New(nil)
	c := newClient(t, clock, query.WithMetrics(reg))
	seedFeed(c, clock.Now())
	before, _ := c.Store().Get(feedKey)
	clock.Advance(time.Second)

	m := query.Mutation[post, post]{
		AffectedKeys: []query.Key{{"feed"}, {"posts"}},
		Optimistic: func(tx *query.Tx, in post) {
			prependToFeed(tx, in)
			tx.SetQueryData(query.Key{"posts", "detail", in.ID}, func(any) any { return in })
		},
		Fn: func(ctx context.Context, in post) (post, error) {
			assert.Equal(t, in, feedHead(t, c))
			_, ok := c.GetQueryData(query.Key{"posts", "detail", in.ID})
			assert.True(t, ok)
			return post{}, apierr.Network(errors.New("connection refused"))
		},
	}

	_, err := query.Mutate(context.Background(), c, m, post{ID: "temp-1", Content: "hello"})
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, apierr.CodeNetwork))

	after, _ := c.Store().Get(feedKey)
	assert.Equal(t, before, after)
	assert.Equal(t, "p1", feedHead(t, c).ID)
	_, ok := c.GetQueryData(query.Key{"posts", "detail", "temp-1"})
	assert.False(t, ok, "keys created by the optimistic write are removed")
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Rollbacks))
}

func TestSuccessfulMutationInvalidatesAffectedKeys(t *testing.T) {
	clock := newClock()
	c := newClient(t, clock)
	seedFeed(c, clock.Now())
	other := query.Key{"users", "me"}
	c.Store().Set(other, query.Entry{Data: "me", Status: query.StatusSuccess, UpdatedAt: clock.Now()})

	var committed post
	m := query.Mutation[post, post]{
		AffectedKeys: []query.Key{{"feed"}},
		Optimistic:   func(tx *query.Tx, in post) { prependToFeed(tx, in) },
		Fn: func(ctx context.Context, in post) (post, error) {
			return post{ID: "p2", Content: in.Content}, nil
		},
		OnSuccess: func(c *query.Client, in post, out post) { committed = out },
	}

	out, err := query.Mutate(context.Background(), c, m, post{ID: "temp-2", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "p2", out.ID)
	assert.Equal(t, out, committed)

	entry, _ := c.Store().Get(feedKey)
	assert.True(t, entry.Invalidated)
	assert.Equal(t, "temp-2", feedHead(t, c).ID, "optimistic data stays until the refetch lands")

	entry, _ = c.Store().Get(other)
	assert.False(t, entry.Invalidated)
}

func TestMutationIsNotRetried(t *testing.T) {
	c := newClient(t, newClock())
	calls := 0
	m := query.Mutation[string, string]{
		Fn: func(ctx context.Context, in string) (string, error) {
			calls++
			return "", apierr.New(503, apierr.CodeServer, "unavailable", nil)
		},
	}
	_, err := query.Mutate(context.Background(), c, m, "x")
	assert.True(t, apierr.HasCode(err, apierr.CodeServer))
	assert.Equal(t, 1, calls)
}

func TestOptimisticWriteCancelsInFlightFetch(t *testing.T) {
	c := newClient(t, newClock())
	key := query.Key{"posts", "detail", "p1"}
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "server", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		_, _ = c.Fetch(context.Background(), key, fetch)
	}()
	require.Eventually(t, func() bool {
		e, _ := c.Store().Get(key)
		return e.IsPending()
	}, time.Second, 5*time.Millisecond)

	m := query.Mutation[string, string]{
		AffectedKeys: []query.Key{{"posts"}},
		Optimistic: func(tx *query.Tx, in string) {
			tx.SetQueryData(key, func(any) any { return in })
		},
		Fn: func(ctx context.Context, in string) (string, error) {
			close(release)
			<-fetched
			return in, nil
		},
	}
	_, err := query.Mutate(context.Background(), c, m, "optimistic")
	require.NoError(t, err)

	data, _ := c.GetQueryData(key)
	assert.Equal(t, "optimistic", data)
}

func TestOverlappingMutationsRunOneAtATime(t *testing.T) {
	c := newClient(t, newClock())
	started := make(chan string, 3)
	release := make(chan struct{})
	blocking := func(ctx context.Context, in string) (string, error) {
		started <- in
		<-release
		return in, nil
	}

	var wg sync.WaitGroup
	run := func(key query.Key, name string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := query.Mutate(context.Background(), c, query.Mutation[string, string]{
				AffectedKeys: []query.Key{key},
				Fn:           blocking,
			}, name)
			assert.NoError(t, err)
		}()
	}

	run(query.Key{"posts"}, "first")
	assert.Equal(t, "first", <-started)

	run(query.Key{"posts", "detail", "p1"}, "second")
	select {
	case name := <-started:
		t.Fatalf("mutation %q ran while an overlapping one was active", name)
	case <-time.After(50 * time.Millisecond):
	}

	out, err := query.Mutate(context.Background(), c, query.Mutation[string, string]{
		AffectedKeys: []query.Key{{"users"}},
		Fn:           func(ctx context.Context, in string) (string, error) { return in, nil },
	}, "disjoint")
	require.NoError(t, err)
	assert.Equal(t, "disjoint", out)

	close(release)
	assert.Equal(t, "second", <-started)
	wg.Wait()
}

func TestBlockedMutationHonoursContext(t *testing.T) {
	c := newClient(t, newClock())
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	go func() {
		_, _ = query.Mutate(context.Background(), c, query.Mutation[int, int]{
			AffectedKeys: []query.Key{{"feed"}},
			Fn: func(ctx context.Context, in int) (int, error) {
				close(started)
				<-release
				return in, nil
			},
		}, 1)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := query.Mutate(ctx, c, query.Mutation[int, int]{
		AffectedKeys: []query.Key{{"feed"}},
		Fn:           func(ctx context.Context, in int) (int, error) { return in, nil },
	}, 2)
	assert.True(t, apierr.HasCode(err, apierr.CodeTimeout))
}
