package mockapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/auth"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/mockapi"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newBackend(t *testing.T, token *string) (*mockapi.Server, *api.Client) {
	t.Helper()
	srv := mockapi.New(mockapi.Options{Seed: 7, Now: func() time.Time { return fixedNow }})
	opts := api.Options{RoundTripper: srv.Transport()}
	if token != nil {
		opts.TokenSource = func() string { return *token }
	}
	c, err := api.New("http://hive.mock/api", opts)
	require.NoError(t, err)
	return srv, c
}

func TestSeedIsDeterministic(t *testing.T) {
	a := mockapi.New(mockapi.Options{Seed: 3, Now: func() time.Time { return fixedNow }})
	b := mockapi.New(mockapi.Options{Seed: 3, Now: func() time.Time { return fixedNow }})

	get := func(s *mockapi.Server) string {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/feed?page=0&size=5", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		return string(env.Data)
	}
	assert.Equal(t, get(a), get(b))
}

func TestFeedPaging(t *testing.T) {
	_, c := newBackend(t, nil)
	ctx := context.Background()

	params := url.Values{"page": {"2"}, "size": {"20"}}
	items, err := api.Get[[]feed.Item](ctx, c, "/v1/feed", params)
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, "p41", items[0].ID)

	params.Set("page", "3")
	items, err = api.Get[[]feed.Item](ctx, c, "/v1/feed", params)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPostLifecycle(t *testing.T) {
	_, c := newBackend(t, nil)
	ctx := context.Background()

	_, err := api.Post[posts.Post](ctx, c, "/v1/posts", posts.CreateRequest{Content: "   "})
	assert.True(t, apierr.HasCode(err, apierr.CodeValidation))

	created, err := api.Post[posts.Post](ctx, c, "/v1/posts", posts.CreateRequest{Content: "hello hive"})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, fixedNow, created.CreatedAt)

	page, err := api.Get[query.OffsetPage[posts.Post]](ctx, c, "/v1/posts", url.Values{"size": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, created.ID, page.Items[0].ID)
	assert.Equal(t, 46, page.TotalItems)
	assert.Equal(t, 5, page.TotalPages)

	_, err = api.Post[struct{}](ctx, c, "/v1/posts/"+created.ID+"/like", nil)
	require.NoError(t, err)
	_, err = api.Post[struct{}](ctx, c, "/v1/posts/"+created.ID+"/like", nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeNotFound))

	got, err := api.Get[posts.Post](ctx, c, "/v1/posts/"+created.ID, nil)
	require.NoError(t, err)
	assert.True(t, got.IsLiked)
	assert.Equal(t, 1, got.LikesCount)

	comment, err := api.Post[posts.Comment](ctx, c, "/v1/posts/"+created.ID+"/comments", posts.CommentRequest{Content: "first"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, comment.PostID)

	_, err = api.Delete[struct{}](ctx, c, "/v1/posts/"+created.ID)
	require.NoError(t, err)
	_, err = api.Get[posts.Post](ctx, c, "/v1/posts/"+created.ID, nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeNotFound))
}

func TestAuthFlow(t *testing.T) {
	var token string
	_, c := newBackend(t, &token)
	ctx := context.Background()

	_, err := api.Get[map[string]any](ctx, c, "/v1/auth/session", nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeUnauthorized))

	_, err = api.Post[auth.Response](ctx, c, "/v1/auth/login", auth.LoginRequest{Email: "ada@hive.dev"})
	assert.True(t, apierr.HasCode(err, apierr.CodeValidation))

	res, err := api.Post[auth.Response](ctx, c, "/v1/auth/login", auth.LoginRequest{Email: "ada@hive.dev", Password: mockapi.DefaultPassword})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, fixedNow.Add(time.Hour), res.Session.ExpiresAt)
	token = res.Session.AccessToken

	me, err := api.Get[map[string]any](ctx, c, "/v1/users/me", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada Park", me["name"])

	_, err = api.Post[struct{}](ctx, c, "/v1/auth/logout", nil)
	require.NoError(t, err)
	_, err = api.Get[map[string]any](ctx, c, "/v1/users/me", nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeUnauthorized))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	_, c := newBackend(t, nil)
	ctx := context.Background()

	res, err := api.Post[auth.Response](ctx, c, "/v1/auth/register", auth.RegisterRequest{Name: "Zed", Email: "zed@hive.dev", Password: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.AccessToken)

	_, err = api.Post[auth.Response](ctx, c, "/v1/auth/register", auth.RegisterRequest{Name: "Zed", Email: "ZED@hive.dev", Password: "x"})
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, reqErr.Status())
}

func TestFailureInjection(t *testing.T) {
	srv, c := newBackend(t, nil)
	ctx := context.Background()

	srv.FailNext(1, http.StatusTooManyRequests, apierr.CodeRateLimited, "Too many requests. Please slow down.")
	_, err := api.Get[[]feed.Item](ctx, c, "/v1/feed", nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeRateLimited))

	_, err = api.Get[[]feed.Item](ctx, c, "/v1/feed", nil)
	assert.NoError(t, err)

	srv.SetErrorRate(1)
	_, err = api.Get[[]feed.Item](ctx, c, "/v1/feed", nil)
	reqErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Contains(t, []apierr.Code{apierr.CodeServer, apierr.CodeRateLimited}, reqErr.Code())
	assert.Equal(t, 3, srv.Requests())
}

func TestTransportHonoursContext(t *testing.T) {
	srv, c := newBackend(t, nil)
	srv.SetLatency(time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := api.Get[[]feed.Item](ctx, c, "/v1/feed", nil)
	assert.True(t, apierr.HasCode(err, apierr.CodeTimeout))
}

func TestUnknownRoute(t *testing.T) {
	srv := mockapi.New(mockapi.Options{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errorCode":"NOT_FOUND"`)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
