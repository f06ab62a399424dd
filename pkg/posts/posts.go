// Package posts reads and writes HIVE posts and comments. Reads go through
// the query cache; writes run as mutations that keep the cached feed and post
// views consistent, optimistically where the change is predictable.
package posts

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

// TempIDPrefix marks ids of posts that exist only in the local cache.
const TempIDPrefix = "temp-"

type Post struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	AuthorName      string    `json:"authorName"`
	AuthorAvatarURL *string   `json:"authorAvatarUrl"`
	Content         string    `json:"content"`
	ImageURL        *string   `json:"imageUrl"`
	LikesCount      int       `json:"likesCount"`
	CommentsCount   int       `json:"commentsCount"`
	IsLiked         bool      `json:"isLiked"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Comment struct {
	ID              string    `json:"id"`
	PostID          string    `json:"postId"`
	UserID          string    `json:"userId"`
	AuthorName      string    `json:"authorName"`
	AuthorAvatarURL *string   `json:"authorAvatarUrl"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}

type CreateRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content"`
}

// Author identifies the local user on optimistic posts.
type Author struct {
	ID   string
	Name string
}

// Option configures a Service.
type Option func(*Service)

// WithAuthor sets the identity shown on optimistic posts.
func WithAuthor(a Author) Option {
	return func(s *Service) { s.author = a }
}

// WithClock overrides the timestamp source for optimistic posts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service serves post queries and mutations.
type Service struct {
	api     *api.Client
	queries *query.Client
	author  Author
	now     func() time.Time
}

// NewService binds posts to a transport and a query client.
func NewService(a *api.Client, q *query.Client, opts ...Option) *Service {
	s := &Service{
		api:     a,
		queries: q,
		author:  Author{ID: "current-user", Name: "You"},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a cached page of posts.
func (s *Service) List(ctx context.Context, f keys.PostFilters, opts ...query.Option) (query.OffsetPage[Post], query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.PostList(f), func(ctx context.Context) (query.OffsetPage[Post], error) {
		return api.Get[query.OffsetPage[Post]](ctx, s.api, "/v1/posts", listParams(f))
	}, opts...)
}

// ByAuthor returns a cached page of one user's posts.
func (s *Service) ByAuthor(ctx context.Context, userID string, page int, opts ...query.Option) (query.OffsetPage[Post], query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.UserPosts(userID).With(page), func(ctx context.Context) (query.OffsetPage[Post], error) {
		return api.Get[query.OffsetPage[Post]](ctx, s.api, "/v1/users/"+url.PathEscape(userID)+"/posts", listParams(keys.PostFilters{Page: page}))
	}, opts...)
}

// Get returns one cached post.
func (s *Service) Get(ctx context.Context, id string, opts ...query.Option) (Post, query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.PostDetail(id), func(ctx context.Context) (Post, error) {
		return api.Get[Post](ctx, s.api, postPath(id), nil)
	}, opts...)
}

// Comments returns the cached comments of a post.
func (s *Service) Comments(ctx context.Context, postID string, opts ...query.Option) ([]Comment, query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.PostComments(postID), func(ctx context.Context) ([]Comment, error) {
		return api.Get[[]Comment](ctx, s.api, postPath(postID)+"/comments", nil)
	}, opts...)
}

// Create publishes a post and invalidates the post and feed caches.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Post, error) {
	return query.Mutate(ctx, s.queries, query.Mutation[CreateRequest, Post]{
		Fn:           s.create,
		AffectedKeys: []query.Key{keys.Posts(), keys.Feed()},
		OnSuccess:    cachePost,
	}, req)
}

// CreateOptimistic publishes a post, showing it at the head of every cached
// infinite feed until the server answers. On failure the feeds are restored
// exactly as they were.
func (s *Service) CreateOptimistic(ctx context.Context, req CreateRequest) (Post, error) {
	return query.Mutate(ctx, s.queries, query.Mutation[CreateRequest, Post]{
		Fn:           s.create,
		AffectedKeys: []query.Key{keys.Feed(), keys.Posts()},
		Optimistic: func(tx *query.Tx, in CreateRequest) {
			feed.Prepend(tx, s.placeholder(in))
		},
		OnSuccess: cachePost,
	}, req)
}

// Delete removes a post, dropping it from cached feeds immediately.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := query.Mutate(ctx, s.queries, query.Mutation[string, struct{}]{
		Fn: func(ctx context.Context, id string) (struct{}, error) {
			return api.Delete[struct{}](ctx, s.api, postPath(id))
		},
		AffectedKeys: []query.Key{keys.Posts(), keys.Feed()},
		Optimistic: func(tx *query.Tx, id string) {
			feed.Remove(tx, id)
		},
		OnSuccess: func(c *query.Client, id string, _ struct{}) {
			c.RemoveQueries(keys.PostDetail(id), keys.PostComments(id))
		},
	}, id)
	return err
}

// Like marks a post as liked by the current user.
func (s *Service) Like(ctx context.Context, id string) error {
	return s.toggleLike(ctx, id, true)
}

// Unlike removes the current user's like.
func (s *Service) Unlike(ctx context.Context, id string) error {
	return s.toggleLike(ctx, id, false)
}

func (s *Service) toggleLike(ctx context.Context, id string, liked bool) error {
	_, err := query.Mutate(ctx, s.queries, query.Mutation[string, struct{}]{
		Fn: func(ctx context.Context, id string) (struct{}, error) {
			if liked {
				return api.Post[struct{}](ctx, s.api, postPath(id)+"/like", nil)
			}
			return api.Delete[struct{}](ctx, s.api, postPath(id)+"/like")
		},
		AffectedKeys: []query.Key{keys.PostDetail(id)},
		Optimistic: func(tx *query.Tx, id string) {
			tx.SetQueryData(keys.PostDetail(id), func(old any) any {
				p, ok := query.DataAs[Post](old)
				if !ok || p.IsLiked == liked {
					return nil
				}
				p.IsLiked = liked
				if liked {
					p.LikesCount++
				} else if p.LikesCount > 0 {
					p.LikesCount--
				}
				return p
			})
		},
	}, id)
	return err
}

// AddComment posts a comment and appends it to the cached comment list.
func (s *Service) AddComment(ctx context.Context, postID string, req CommentRequest) (Comment, error) {
	return query.Mutate(ctx, s.queries, query.Mutation[CommentRequest, Comment]{
		Fn: func(ctx context.Context, in CommentRequest) (Comment, error) {
			return api.Post[Comment](ctx, s.api, postPath(postID)+"/comments", in)
		},
		AffectedKeys: []query.Key{keys.PostComments(postID), keys.PostDetail(postID)},
		OnSuccess: func(c *query.Client, _ CommentRequest, out Comment) {
			c.SetQueryData(keys.PostComments(postID), func(old any) any {
				list, ok := query.DataAs[[]Comment](old)
				if !ok {
					return nil
				}
				return append(append([]Comment(nil), list...), out)
			})
		},
	}, req)
}

func (s *Service) create(ctx context.Context, req CreateRequest) (Post, error) {
	return api.Post[Post](ctx, s.api, "/v1/posts", req)
}

func (s *Service) placeholder(req CreateRequest) feed.Item {
	item := feed.Item{
		ID:         TempIDPrefix + uuid.NewString(),
		UserID:     s.author.ID,
		AuthorName: s.author.Name,
		Content:    req.Content,
		CreatedAt:  s.now().UTC(),
	}
	if req.ImageURL != "" {
		img := req.ImageURL
		item.ImageURL = &img
	}
	return item
}

func cachePost(c *query.Client, _ CreateRequest, out Post) {
	if out.ID == "" {
		return
	}
	c.SetQueryData(keys.PostDetail(out.ID), func(any) any { return out })
}

func postPath(id string) string {
	return "/v1/posts/" + url.PathEscape(id)
}

func listParams(f keys.PostFilters) url.Values {
	params := url.Values{}
	if f.AuthorID != "" {
		params.Set("authorId", f.AuthorID)
	}
	if f.Page > 0 {
		params.Set("page", strconv.Itoa(f.Page))
	}
	if f.Size > 0 {
		params.Set("size", strconv.Itoa(f.Size))
	}
	return params
}
