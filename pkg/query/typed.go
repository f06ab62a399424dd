package query

import (
	"context"
	"encoding/json"
)

// DataAs converts cached data to T. Entries restored from a persisted cache
// hold raw JSON, so raw messages and byte slices are decoded.
func DataAs[T any](v any) (T, bool) {
	var out T
	switch data := v.(type) {
	case nil:
		return out, false
	case T:
		return data, true
	case *T:
		if data == nil {
			return out, false
		}
		return *data, true
	case json.RawMessage:
		return out, json.Unmarshal(data, &out) == nil
	case []byte:
		return out, json.Unmarshal(data, &out) == nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	return out, json.Unmarshal(raw, &out) == nil
}

// Typed adapts a typed loader to a Fetcher.
func Typed[T any](fn func(ctx context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// FetchAs runs Client.Fetch and converts the cached data to T.
func FetchAs[T any](ctx context.Context, c *Client, key Key, fn func(ctx context.Context) (T, error), opts ...Option) (T, Entry, error) {
	entry, err := c.Fetch(ctx, key, Typed(fn), opts...)
	v, _ := DataAs[T](entry.Data)
	return v, entry, err
}
