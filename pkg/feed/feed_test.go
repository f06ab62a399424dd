package feed_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

func newFeed(t *testing.T) (*feed.Service, *query.Client, *mockapi.Server) {
	t.Helper()
	srv := mockapi.New(mockapi.Options{Seed: 1})
	a, err := api.New("http://hive.mock/api", api.Options{RoundTripper: srv.Transport()})
	require.NoError(t, err)
	q := query.NewClient(query.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	t.Cleanup(q.Close)
	return feed.NewService(a, q), q, srv
}

func TestPageDerivesCursor(t *testing.T) {
	svc, _, _ := newFeed(t)
	ctx := context.Background()

	first, err := svc.Page(ctx, 0, 20)
	require.NoError(t, err)
	assert.Len(t, first.Items, 20)
	assert.True(t, first.HasMore)
	assert.Equal(t, "20", first.NextCursor)

	last, err := svc.Page(ctx, 2, 20)
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
}

func TestPageFetcherRejectsBadCursor(t *testing.T) {
	svc, _, _ := newFeed(t)
	_, err := svc.PageFetcher(20)(context.Background(), "abc")
	assert.True(t, apierr.HasCode(err, apierr.CodeUnknown))
}

func TestInfiniteLoadsPagesUntilExhausted(t *testing.T) {
	svc, _, srv := newFeed(t)
	ctx := context.Background()

	data, entry, err := svc.Infinite(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, query.StatusSuccess, entry.Status)
	assert.Len(t, data.Pages, 1)

	data, err = svc.NextPage(ctx, 20)
	require.NoError(t, err)
	data, err = svc.NextPage(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "20", "40"}, data.PageParams)
	assert.Len(t, data.Items(), 45)
	assert.False(t, data.HasNextPage())

	before := srv.Requests()
	data, err = svc.NextPage(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, data.Pages, 3)
	assert.Equal(t, before, srv.Requests())
}

func TestListCachesByFilters(t *testing.T) {
	svc, q, srv := newFeed(t)
	ctx := context.Background()

	page, _, err := svc.List(ctx, keys.FeedFilters{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "20", page.NextCursor)

	before := srv.Requests()
	_, _, err = svc.List(ctx, keys.FeedFilters{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, before, srv.Requests())

	_, ok := q.GetQueryData(keys.FeedList(keys.FeedFilters{Page: 1, Limit: 10}))
	assert.True(t, ok)
}

func TestPrependAndRemoveRollBackTogether(t *testing.T) {
	svc, q, _ := newFeed(t)
	ctx := context.Background()

	before, _, err := svc.Infinite(ctx, 20)
	require.NoError(t, err)

	var visited int
	_, err = query.Mutate(ctx, q, query.Mutation[string, struct{}]{
		Fn: func(context.Context, string) (struct{}, error) {
			return struct{}{}, apierr.Network(errors.New("offline"))
		},
		Optimistic: func(tx *query.Tx, _ string) {
			visited = feed.Prepend(tx, feed.Item{ID: "temp-1", Content: "draft"})
			feed.Remove(tx, before.Pages[0].Items[0].ID)
		},
	}, "")
	require.Error(t, err)
	assert.Equal(t, 1, visited)

	after, _, err := svc.Infinite(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPrependKeepsOptimisticItemOnSuccess(t *testing.T) {
	svc, q, _ := newFeed(t)
	ctx := context.Background()

	_, _, err := svc.Infinite(ctx, 20)
	require.NoError(t, err)

	_, err = query.Mutate(ctx, q, query.Mutation[string, struct{}]{
		Fn: func(context.Context, string) (struct{}, error) { return struct{}{}, nil },
		Optimistic: func(tx *query.Tx, _ string) {
			feed.Prepend(tx, feed.Item{ID: "temp-1", Content: "draft"})
		},
	}, "")
	require.NoError(t, err)

	raw, ok := q.GetQueryData(keys.FeedInfinite(20))
	require.True(t, ok)
	data, ok := query.DataAs[query.InfiniteData[feed.Item]](raw)
	require.True(t, ok)
	assert.Equal(t, "temp-1", data.Pages[0].Items[0].ID)
	assert.Len(t, data.Pages[0].Items, 21)
}

func TestWatchDeliversFirstPage(t *testing.T) {
	svc, _, _ := newFeed(t)

	got := make(chan query.InfiniteData[feed.Item], 4)
	obs := svc.Watch(20, func(data query.InfiniteData[feed.Item], e query.Entry) {
		if e.Status == query.StatusSuccess {
			got <- data
		}
	})
	defer obs.Close()

	select {
	case data := <-got:
		assert.Len(t, data.Items(), 20)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not deliver the first page")
	}
}

func TestPageSurfacesServerErrors(t *testing.T) {
	svc, _, srv := newFeed(t)
	srv.FailNext(1, http.StatusInternalServerError, apierr.CodeServer, "down")

	_, err := svc.Page(context.Background(), 0, 20)
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status())
}
