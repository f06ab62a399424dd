package query

import (
	"context"
	"errors"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
)

// Mutation describes a write against the backend and its cache effects.
type Mutation[In, Out any] struct {
	// Fn performs the write. It runs once; mutations are never retried.
	Fn func(ctx context.Context, in In) (Out, error)
	// AffectedKeys are the key prefixes the mutation touches. In-flight
	// fetches under them are cancelled before an optimistic write and they
	// are invalidated after a successful commit.
	AffectedKeys []Key
	// Optimistic applies the speculative cache change. Every write made
	// through tx is rolled back if Fn fails.
	Optimistic func(tx *Tx, in In)
	// OnSuccess runs after a successful commit, before invalidation.
	OnSuccess func(c *Client, in In, out Out)
}

// Mutate runs m with input in.
//
// With an optimistic phase the affected keys are snapshotted, the
// speculative change is applied synchronously, and on failure the snapshot is
// replayed exactly before the error is returned. On success the affected
// keys are invalidated. Mutations with overlapping affected keys run one at
// a time.
func Mutate[In, Out any](ctx context.Context, c *Client, m Mutation[In, Out], in In) (Out, error) {
	var zero Out
	if m.Fn == nil {
		return zero, apierr.Unknown(errors.New("query: mutation has no function"))
	}
	release, err := c.gate.acquire(ctx, m.AffectedKeys)
	if err != nil {
		return zero, apierr.Classify(err)
	}
	defer release()

	var tx *Tx
	if m.Optimistic != nil {
		c.CancelQueries(m.AffectedKeys...)
		tx = c.begin(m.AffectedKeys)
		m.Optimistic(tx, in)
	}

	out, err := m.Fn(ctx, in)
	if err != nil {
		reqErr := apierr.Classify(err)
		rolledBack := tx.rollback()
		c.metrics.Mutation("error", rolledBack)
		c.logger.Debug().Err(reqErr).Bool("rolled_back", rolledBack).Msg("mutation failed")
		return zero, reqErr
	}
	tx.commit()
	c.metrics.Mutation("success", false)

	if m.OnSuccess != nil {
		m.OnSuccess(c, in, out)
	}
	if len(m.AffectedKeys) > 0 {
		c.Invalidate(m.AffectedKeys...)
	}
	return out, nil
}

type snapshotItem struct {
	key     Key
	entry   Entry
	existed bool
}

// Tx records the pre-write state of every key an optimistic update touches
// so the update can be undone exactly once.
type Tx struct {
	c     *Client
	items map[string]snapshotItem
	order []string
	done  bool
}

func (c *Client) begin(prefixes []Key) *Tx {
	tx := &Tx{c: c, items: make(map[string]snapshotItem)}
	for _, key := range c.store.KeysMatching(Matching(prefixes...)) {
		tx.capture(key)
	}
	return tx
}

func (tx *Tx) capture(key Key) {
	hash := key.Hash()
	if _, ok := tx.items[hash]; ok {
		return
	}
	entry, ok := tx.c.store.Get(key)
	tx.items[hash] = snapshotItem{key: append(Key(nil), key...), entry: entry, existed: ok}
	tx.order = append(tx.order, hash)
}

// GetQueryData reads the current cached data for key.
func (tx *Tx) GetQueryData(key Key) (any, bool) {
	return tx.c.GetQueryData(key)
}

// SetQueryData writes fn(old) to key, capturing the key first.
func (tx *Tx) SetQueryData(key Key, fn func(old any) any) {
	if tx.done {
		return
	}
	tx.capture(key)
	tx.c.SetQueryData(key, fn)
}

// SetQueriesData applies fn to every cached key under prefix holding data.
func (tx *Tx) SetQueriesData(prefix Key, fn func(old any) any) int {
	if tx.done {
		return 0
	}
	n := 0
	for _, key := range tx.c.store.KeysMatching(Matching(prefix)) {
		if _, ok := tx.c.GetQueryData(key); !ok {
			continue
		}
		tx.SetQueryData(key, fn)
		n++
	}
	return n
}

func (tx *Tx) rollback() bool {
	if tx == nil || tx.done {
		return false
	}
	tx.done = true
	for i := len(tx.order) - 1; i >= 0; i-- {
		item := tx.items[tx.order[i]]
		if item.existed {
			tx.c.store.Set(item.key, item.entry)
		} else {
			tx.c.store.Delete(item.key)
		}
	}
	return true
}

func (tx *Tx) commit() {
	if tx == nil {
		return
	}
	tx.done = true
	tx.items = nil
	tx.order = nil
}
