package query

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dehydrated is the portable form of a successful cache entry.
type Dehydrated struct {
	Key       Key             `json:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Dehydrate exports every successful entry under the prefixes, or every
// successful entry when no prefix is given.
func (c *Client) Dehydrate(prefixes ...Key) ([]Dehydrated, error) {
	var pred func(Key) bool
	if len(prefixes) > 0 {
		pred = Matching(prefixes...)
	}
	var out []Dehydrated
	for _, key := range c.store.KeysMatching(pred) {
		entry, ok := c.store.Get(key)
		if !ok || !entry.HasData() || entry.UpdatedAt.IsZero() {
			continue
		}
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return nil, fmt.Errorf("query: dehydrate %s: %w", key, err)
		}
		out = append(out, Dehydrated{Key: key, Data: raw, UpdatedAt: entry.UpdatedAt.UTC()})
	}
	return out, nil
}

// Hydrate imports entries, skipping keys whose cached data is at least as
// recent. Imported data stays raw JSON until read through DataAs.
func (c *Client) Hydrate(items []Dehydrated) int {
	n := 0
	for _, item := range items {
		if len(item.Key) == 0 || len(item.Data) == 0 {
			continue
		}
		if cur, ok := c.store.Get(item.Key); ok && cur.HasData() && !cur.UpdatedAt.Before(item.UpdatedAt) {
			continue
		}
		data := append(json.RawMessage(nil), item.Data...)
		updated := item.UpdatedAt
		c.store.Patch(item.Key, func(e *Entry) {
			e.Data = data
			e.Err = nil
			e.UpdatedAt = updated
			e.Invalidated = false
			if e.Status != StatusPending {
				e.Status = StatusSuccess
			}
		})
		n++
	}
	c.metrics.SetEntries(c.store.Len())
	return n
}
