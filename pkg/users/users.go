// Package users reads HIVE user records through the query cache.
package users

import (
	"context"
	"net/url"
	"time"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

// MeStaleTime keeps the signed-in user fresh longer than other queries.
const MeStaleTime = 10 * time.Minute

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatarUrl"`
	Bio       *string   `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is a user with social counters.
type Profile struct {
	User
	PostsCount     int  `json:"postsCount"`
	FollowersCount int  `json:"followersCount"`
	FollowingCount int  `json:"followingCount"`
	IsFollowing    bool `json:"isFollowing"`
}

// UpdateRequest changes fields of the signed-in user. Nil fields are left
// untouched.
type UpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

type Service struct {
	api     *api.Client
	queries *query.Client
}

func NewService(a *api.Client, q *query.Client) *Service {
	return &Service{api: a, queries: q}
}

// Me returns the signed-in user.
func (s *Service) Me(ctx context.Context, opts ...query.Option) (User, query.Entry, error) {
	opts = append([]query.Option{query.WithStaleTime(MeStaleTime)}, opts...)
	return query.FetchAs(ctx, s.queries, keys.Me(), func(ctx context.Context) (User, error) {
		return api.Get[User](ctx, s.api, "/v1/users/me", nil)
	}, opts...)
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string, opts ...query.Option) (User, query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.UserDetail(id), func(ctx context.Context) (User, error) {
		return api.Get[User](ctx, s.api, userPath(id), nil)
	}, opts...)
}

// Profile returns a user with counters.
func (s *Service) Profile(ctx context.Context, id string, opts ...query.Option) (Profile, query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.UserProfile(id), func(ctx context.Context) (Profile, error) {
		return api.Get[Profile](ctx, s.api, userPath(id), nil)
	}, opts...)
}

// UpdateMe patches the signed-in user, applying the change to the cached
// record before the server confirms it.
func (s *Service) UpdateMe(ctx context.Context, req UpdateRequest) (User, error) {
	return query.Mutate(ctx, s.queries, query.Mutation[UpdateRequest, User]{
		Fn: func(ctx context.Context, in UpdateRequest) (User, error) {
			return api.Patch[User](ctx, s.api, "/v1/users/me", in)
		},
		AffectedKeys: []query.Key{keys.Users()},
		Optimistic: func(tx *query.Tx, in UpdateRequest) {
			tx.SetQueryData(keys.Me(), func(old any) any {
				u, ok := query.DataAs[User](old)
				if !ok {
					return nil
				}
				return in.apply(u)
			})
		},
		OnSuccess: func(c *query.Client, _ UpdateRequest, out User) {
			c.SetQueryData(keys.Me(), func(any) any { return out })
		},
	}, req)
}

func (r UpdateRequest) apply(u User) User {
	if r.Name != nil {
		u.Name = *r.Name
	}
	if r.Bio != nil {
		bio := *r.Bio
		u.Bio = &bio
	}
	if r.AvatarURL != nil {
		avatar := *r.AvatarURL
		u.AvatarURL = &avatar
	}
	return u
}

func userPath(id string) string {
	return "/v1/users/" + url.PathEscape(id)
}
