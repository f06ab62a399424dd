package posts_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

type fixture struct {
	srv   *mockapi.Server
	q     *query.Client
	feed  *feed.Service
	posts *posts.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := mockapi.New(mockapi.Options{Seed: 1})
	a, err := api.New("http://hive.mock/api", api.Options{RoundTripper: srv.Transport()})
	require.NoError(t, err)
	q := query.NewClient(query.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	t.Cleanup(q.Close)
	return &fixture{
		srv:   srv,
		q:     q,
		feed:  feed.NewService(a, q),
		posts: posts.NewService(a, q, posts.WithAuthor(posts.Author{ID: "u1", Name: "Ada Park"})),
	}
}

func (f *fixture) cachedFeed(t *testing.T) query.InfiniteData[feed.Item] {
	t.Helper()
	raw, ok := f.q.GetQueryData(keys.FeedInfinite(feed.DefaultLimit))
	require.True(t, ok)
	data, ok := query.DataAs[query.InfiniteData[feed.Item]](raw)
	require.True(t, ok)
	return data
}

func TestCreateOptimisticRollsBackOnServerError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, _, err := f.feed.Infinite(ctx, 0)
	require.NoError(t, err)

	f.srv.FailNext(1, http.StatusInternalServerError, apierr.CodeServer, "Internal server error. Please try again later.")
	requests := f.srv.Requests()
	_, err = f.posts.CreateOptimistic(ctx, posts.CreateRequest{Content: "will fail"})
	assert.True(t, apierr.HasCode(err, apierr.CodeServer))
	assert.Equal(t, requests+1, f.srv.Requests(), "mutations run once")

	assert.Equal(t, before, f.cachedFeed(t))
}

func TestCreateOptimisticShowsPlaceholderUntilRefetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.feed.Infinite(ctx, 0)
	require.NoError(t, err)

	created, err := f.posts.CreateOptimistic(ctx, posts.CreateRequest{Content: "hello hive"})
	require.NoError(t, err)

	head := f.cachedFeed(t).Pages[0].Items[0]
	assert.True(t, strings.HasPrefix(head.ID, posts.TempIDPrefix))
	assert.Equal(t, "Ada Park", head.AuthorName)

	entry, ok := f.q.Store().Get(keys.FeedInfinite(feed.DefaultLimit))
	require.True(t, ok)
	assert.True(t, entry.Invalidated)

	_, err = f.q.Refetch(ctx, keys.FeedInfinite(feed.DefaultLimit))
	require.NoError(t, err)
	assert.Equal(t, created.ID, f.cachedFeed(t).Pages[0].Items[0].ID)

	raw, ok := f.q.GetQueryData(keys.PostDetail(created.ID))
	require.True(t, ok, "created post is cached")
	got, _ := query.DataAs[posts.Post](raw)
	assert.Equal(t, "hello hive", got.Content)
}

func TestCreateValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.posts.Create(context.Background(), posts.CreateRequest{Content: ""})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeValidation, reqErr.Code())
	assert.Equal(t, "Content is required", reqErr.Message())
}

func TestLikeTogglesCachedPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _, err := f.posts.Get(ctx, "p1")
	require.NoError(t, err)
	require.False(t, p.IsLiked)

	require.NoError(t, f.posts.Like(ctx, "p1"))
	raw, _ := f.q.GetQueryData(keys.PostDetail("p1"))
	liked, _ := query.DataAs[posts.Post](raw)
	assert.True(t, liked.IsLiked)
	assert.Equal(t, p.LikesCount+1, liked.LikesCount)

	f.srv.FailNext(1, http.StatusTooManyRequests, apierr.CodeRateLimited, "Too many requests. Please slow down.")
	err = f.posts.Unlike(ctx, "p1")
	assert.True(t, apierr.HasCode(err, apierr.CodeRateLimited))
	raw, _ = f.q.GetQueryData(keys.PostDetail("p1"))
	still, _ := query.DataAs[posts.Post](raw)
	assert.True(t, still.IsLiked, "failed unlike is rolled back")
	assert.Equal(t, liked.LikesCount, still.LikesCount)

	require.NoError(t, f.posts.Unlike(ctx, "p1"))
	raw, _ = f.q.GetQueryData(keys.PostDetail("p1"))
	unliked, _ := query.DataAs[posts.Post](raw)
	assert.False(t, unliked.IsLiked)
	assert.Equal(t, p.LikesCount, unliked.LikesCount)
}

func TestDeleteDropsPostEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.feed.Infinite(ctx, 0)
	require.NoError(t, err)
	_, _, err = f.posts.Get(ctx, "p1")
	require.NoError(t, err)
	_, _, err = f.posts.Comments(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, f.posts.Delete(ctx, "p1"))

	for _, it := range f.cachedFeed(t).Items() {
		assert.NotEqual(t, "p1", it.ID)
	}
	_, ok := f.q.GetQueryData(keys.PostDetail("p1"))
	assert.False(t, ok)
	_, ok = f.q.GetQueryData(keys.PostComments("p1"))
	assert.False(t, ok)

	err = f.posts.Delete(ctx, "p1")
	assert.True(t, apierr.HasCode(err, apierr.CodeNotFound))
}

func TestAddCommentAppendsToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, _, err := f.posts.Comments(ctx, "p2")
	require.NoError(t, err)

	c, err := f.posts.AddComment(ctx, "p2", posts.CommentRequest{Content: "nice"})
	require.NoError(t, err)

	raw, ok := f.q.GetQueryData(keys.PostComments("p2"))
	require.True(t, ok)
	after, ok := query.DataAs[[]posts.Comment](raw)
	require.True(t, ok)
	require.Len(t, after, len(before)+1)
	assert.Equal(t, c.ID, after[len(after)-1].ID)
}

func TestListAndByAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, _, err := f.posts.List(ctx, keys.PostFilters{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 45, page.TotalItems)
	assert.True(t, page.HasMore())
	assert.Equal(t, "10", page.Cursor().NextCursor)

	mine, _, err := f.posts.ByAuthor(ctx, "u1", 0)
	require.NoError(t, err)
	for _, p := range mine.Items {
		assert.Equal(t, "u1", p.UserID)
	}
	_, ok := f.q.GetQueryData(keys.UserPosts("u1").With(0))
	assert.True(t, ok)

	_, _, err = f.posts.ByAuthor(ctx, "nobody", 0)
	assert.True(t, apierr.HasCode(err, apierr.CodeNotFound))
}
