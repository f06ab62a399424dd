package query

import (
	"context"
	"strconv"
)

// CursorPage is one page of a cursor-paginated list.
type CursorPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// OffsetPage is one page of an offset-paginated list.
type OffsetPage[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// HasMore reports whether a later page exists.
func (p OffsetPage[T]) HasMore() bool { return p.Page+1 < p.TotalPages }

// Cursor converts p to a cursor page whose cursor is the offset of the
// first item on the next page.
func (p OffsetPage[T]) Cursor() CursorPage[T] {
	out := CursorPage[T]{Items: p.Items, HasMore: p.HasMore()}
	if out.HasMore {
		out.NextCursor = strconv.Itoa((p.Page + 1) * p.Size)
	}
	return out
}

// InfiniteData is the cached value of an infinite query: the pages fetched
// so far and the cursor each was fetched with.
type InfiniteData[T any] struct {
	Pages      []CursorPage[T] `json:"pages"`
	PageParams []string        `json:"pageParams"`
}

// Items flattens every page.
func (d InfiniteData[T]) Items() []T {
	var out []T
	for _, p := range d.Pages {
		out = append(out, p.Items...)
	}
	return out
}

// HasNextPage reports whether the last page advertises a successor.
func (d InfiniteData[T]) HasNextPage() bool {
	if len(d.Pages) == 0 {
		return false
	}
	last := d.Pages[len(d.Pages)-1]
	return last.HasMore && last.NextCursor != ""
}

// NextCursor returns the cursor for the next page, or "".
func (d InfiniteData[T]) NextCursor() string {
	if !d.HasNextPage() {
		return ""
	}
	return d.Pages[len(d.Pages)-1].NextCursor
}

// PageFetcher loads the page starting at cursor; "" is the first page.
type PageFetcher[T any] func(ctx context.Context, cursor string) (CursorPage[T], error)

type firstPage[T any] struct {
	page CursorPage[T]
}

// mergeInto replaces page one and keeps every later page already loaded.
func (f firstPage[T]) mergeInto(prev any) any {
	out := InfiniteData[T]{Pages: []CursorPage[T]{f.page}, PageParams: []string{""}}
	old, ok := DataAs[InfiniteData[T]](prev)
	if !ok || len(old.Pages) < 2 {
		return out
	}
	for i := 1; i < len(old.Pages); i++ {
		out.Pages = append(out.Pages, old.Pages[i])
		param := ""
		if i < len(old.PageParams) {
			param = old.PageParams[i]
		}
		out.PageParams = append(out.PageParams, param)
	}
	return out
}

type nextPage[T any] struct {
	cursor string
	page   CursorPage[T]
}

// mergeInto appends the page, replacing it if the cursor was already loaded.
func (n nextPage[T]) mergeInto(prev any) any {
	old, _ := DataAs[InfiniteData[T]](prev)
	out := InfiniteData[T]{
		Pages:      append([]CursorPage[T](nil), old.Pages...),
		PageParams: append([]string(nil), old.PageParams...),
	}
	for i, param := range out.PageParams {
		if param == n.cursor && i < len(out.Pages) {
			out.Pages[i] = n.page
			return out
		}
	}
	out.Pages = append(out.Pages, n.page)
	out.PageParams = append(out.PageParams, n.cursor)
	return out
}

// FetchInfinite loads the first page of an infinite query. Revalidation
// refreshes page one without discarding later pages.
func FetchInfinite[T any](ctx context.Context, c *Client, key Key, fetch PageFetcher[T], opts ...Option) (InfiniteData[T], Entry, error) {
	entry, err := c.Fetch(ctx, key, firstPageFetcher(fetch), opts...)
	data, _ := DataAs[InfiniteData[T]](entry.Data)
	return data, entry, err
}

// WatchInfinite observes an infinite query, loading its first page when the
// key has no fresh data. listener receives the decoded pages.
func WatchInfinite[T any](c *Client, key Key, fetch PageFetcher[T], listener func(InfiniteData[T], Entry), opts ...Option) *Observer {
	var l Listener
	if listener != nil {
		l = func(e Entry) {
			data, _ := DataAs[InfiniteData[T]](e.Data)
			listener(data, e)
		}
	}
	return c.Watch(key, firstPageFetcher(fetch), l, opts...)
}

func firstPageFetcher[T any](fetch PageFetcher[T]) Fetcher {
	return func(ctx context.Context) (any, error) {
		page, err := fetch(ctx, "")
		if err != nil {
			return nil, err
		}
		return firstPage[T]{page: page}, nil
	}
}

// FetchNextPage appends the page after the last loaded one. It fetches
// nothing when the last page has no successor, and loads the first page
// when the key holds no pages yet.
func FetchNextPage[T any](ctx context.Context, c *Client, key Key, fetch PageFetcher[T], opts ...Option) (InfiniteData[T], error) {
	entry, _ := c.store.Get(key)
	cur, ok := DataAs[InfiniteData[T]](entry.Data)
	if !ok || len(cur.Pages) == 0 {
		data, _, err := FetchInfinite(ctx, c, key, fetch, opts...)
		return data, err
	}
	if !cur.HasNextPage() {
		return cur, nil
	}

	cursor := cur.NextCursor()
	cfg := c.policy.config(opts)
	gen := c.store.generation(key)
	fetcher := func(ctx context.Context) (any, error) {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		return nextPage[T]{cursor: cursor, page: page}, nil
	}
	flight := key.Hash() + "#next:" + cursor + "@" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		return c.run(key, fetcher, cfg, gen, false)
	})
	entry, err := c.await(ctx, key, ch)
	data, _ := DataAs[InfiniteData[T]](entry.Data)
	return data, err
}
