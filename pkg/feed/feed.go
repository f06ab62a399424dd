// Package feed reads the HIVE home feed through the query cache, as a plain
// paged list or as an infinite list that grows one page at a time.
package feed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

// DefaultLimit is the page size used when none is given.
const DefaultLimit = 20

// Item is one post as it appears in the feed.
type Item struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	ImageURL   *string   `json:"imageUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Service serves feed queries.
type Service struct {
	api     *api.Client
	queries *query.Client
}

// NewService binds the feed to a transport and a query client.
func NewService(a *api.Client, q *query.Client) *Service {
	return &Service{api: a, queries: q}
}

// Page fetches one page straight from the backend, bypassing the cache.
// A full page implies another one may follow; its cursor is the offset of
// the next page's first item.
func (s *Service) Page(ctx context.Context, page, limit int) (query.CursorPage[Item], error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if page < 0 {
		page = 0
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(limit))
	items, err := api.Get[[]Item](ctx, s.api, "/v1/feed", params)
	if err != nil {
		return query.CursorPage[Item]{}, err
	}
	out := query.CursorPage[Item]{Items: items, HasMore: len(items) >= limit}
	if out.HasMore {
		out.NextCursor = strconv.Itoa((page + 1) * limit)
	}
	return out, nil
}

// PageFetcher returns the cursor-driven loader for an infinite feed.
func (s *Service) PageFetcher(limit int) query.PageFetcher[Item] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return func(ctx context.Context, cursor string) (query.CursorPage[Item], error) {
		page, err := pageForCursor(cursor, limit)
		if err != nil {
			return query.CursorPage[Item]{}, err
		}
		return s.Page(ctx, page, limit)
	}
}

// List returns one cached page of the feed.
func (s *Service) List(ctx context.Context, f keys.FeedFilters, opts ...query.Option) (query.CursorPage[Item], query.Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	return query.FetchAs(ctx, s.queries, keys.FeedList(f), func(ctx context.Context) (query.CursorPage[Item], error) {
		return s.Page(ctx, f.Page, f.Limit)
	}, opts...)
}

// Infinite returns the cached infinite feed, loading its first page if
// needed.
func (s *Service) Infinite(ctx context.Context, limit int, opts ...query.Option) (query.InfiniteData[Item], query.Entry, error) {
	limit = normLimit(limit)
	return query.FetchInfinite(ctx, s.queries, keys.FeedInfinite(limit), s.PageFetcher(limit), opts...)
}

// NextPage loads the page after the last one cached.
func (s *Service) NextPage(ctx context.Context, limit int, opts ...query.Option) (query.InfiniteData[Item], error) {
	limit = normLimit(limit)
	return query.FetchNextPage(ctx, s.queries, keys.FeedInfinite(limit), s.PageFetcher(limit), opts...)
}

// Watch observes the infinite feed. fn receives the decoded pages with
// every change.
func (s *Service) Watch(limit int, fn func(query.InfiniteData[Item], query.Entry), opts ...query.Option) *query.Observer {
	limit = normLimit(limit)
	return query.WatchInfinite(s.queries, keys.FeedInfinite(limit), s.PageFetcher(limit), fn, opts...)
}

// Prepend puts item at the head of page one of every cached infinite feed.
// It returns the number of cached feeds it visited.
func Prepend(tx *query.Tx, item Item) int {
	return tx.SetQueriesData(query.Key{"feed", "infinite"}, func(old any) any {
		data, ok := query.DataAs[query.InfiniteData[Item]](old)
		if !ok || len(data.Pages) == 0 {
			return nil
		}
		pages := append([]query.CursorPage[Item](nil), data.Pages...)
		head := pages[0]
		head.Items = append([]Item{item}, head.Items...)
		pages[0] = head
		data.Pages = pages
		return data
	})
}

// Remove drops the item with id from every cached infinite feed.
func Remove(tx *query.Tx, id string) int {
	return tx.SetQueriesData(query.Key{"feed", "infinite"}, func(old any) any {
		data, ok := query.DataAs[query.InfiniteData[Item]](old)
		if !ok {
			return nil
		}
		pages := make([]query.CursorPage[Item], len(data.Pages))
		for i, p := range data.Pages {
			kept := make([]Item, 0, len(p.Items))
			for _, it := range p.Items {
				if it.ID != id {
					kept = append(kept, it)
				}
			}
			p.Items = kept
			pages[i] = p
		}
		data.Pages = pages
		return data
	})
}

func pageForCursor(cursor string, limit int) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, apierr.Unknown(fmt.Errorf("feed: invalid cursor %q", cursor))
	}
	return offset / limit, nil
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
