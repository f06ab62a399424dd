// Package keys builds the cache keys used by the HIVE domain packages. Each
// domain lives under its own root so a mutation can invalidate everything it
// touches with one prefix.
package keys

import "github.com/hivesocial/hive_sdk_go/pkg/query"

// FeedFilters narrows a feed list.
type FeedFilters struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// PostFilters narrows a post list.
type PostFilters struct {
	AuthorID string `json:"authorId,omitempty"`
	Page     int    `json:"page,omitempty"`
	Size     int    `json:"size,omitempty"`
}

func Auth() query.Key    { return query.Key{"auth"} }
func Session() query.Key { return query.Key{"auth", "session"} }

func Feed() query.Key { return query.Key{"feed"} }

func FeedList(f FeedFilters) query.Key { return query.Key{"feed", "list", f} }

// FeedInfinite is the key of the infinite feed for a page size.
func FeedInfinite(limit int) query.Key {
	return query.Key{"feed", "infinite", FeedFilters{Limit: limit}}
}

func Posts() query.Key { return query.Key{"posts"} }

func PostList(f PostFilters) query.Key { return query.Key{"posts", "list", f} }

func PostDetail(id string) query.Key { return query.Key{"posts", "detail", id} }

func PostComments(postID string) query.Key { return query.Key{"posts", postID, "comments"} }

func Users() query.Key { return query.Key{"users"} }

func UserDetail(id string) query.Key { return query.Key{"users", "detail", id} }

func UserProfile(id string) query.Key { return query.Key{"users", "detail", id, "profile"} }

func Me() query.Key { return query.Key{"users", "me"} }

func UserPosts(userID string) query.Key { return query.Key{"users", userID, "posts"} }
