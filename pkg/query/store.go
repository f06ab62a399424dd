package query

import (
	"sort"
	"sync"
	"time"
)

// Listener receives a copy of an entry after every change to it. Deliveries
// for one key are serialized in write order, even across goroutines.
type Listener func(Entry)

type record struct {
	key        Key
	entry      Entry
	listeners  map[uint64]Listener
	generation uint64
	claimed    uint64
	inflight   bool
	idleSince  time.Time

	// pending holds notifications not yet delivered; draining is set while
	// one goroutine delivers them.
	pending  []notification
	draining bool
}

func (r *record) snapshot() Entry {
	e := r.entry
	e.SubscriberCount = len(r.listeners)
	return e
}

type notification struct {
	entry     Entry
	listeners []Listener
}

// flush delivers a record's queued notifications. The zero value does
// nothing.
type flush struct {
	s   *Store
	rec *record
}

func (f flush) deliver() {
	if f.rec == nil {
		return
	}
	for {
		f.s.mu.Lock()
		if len(f.rec.pending) == 0 {
			f.rec.draining = false
			f.s.mu.Unlock()
			return
		}
		n := f.rec.pending[0]
		f.rec.pending = f.rec.pending[1:]
		f.s.mu.Unlock()
		for _, l := range n.listeners {
			l(n.entry)
		}
	}
}

// Store is the in-memory cache: a map from key hash to entry plus the
// subscribers interested in each key. All methods are safe for concurrent
// use. Listeners run after the internal lock is released, so they may call
// back into the store.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	nextID  uint64
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for idle tracking and sweeps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{records: make(map[string]*record), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// Get returns a copy of the entry for key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key.Hash()]
	if !ok {
		return Entry{}, false
	}
	return rec.snapshot(), true
}

// Set replaces the entry for key, creating it when absent.
func (s *Store) Set(key Key, e Entry) {
	s.Patch(key, func(cur *Entry) { *cur = e })
}

// Patch applies fn to the entry for key, creating an idle entry first when
// the key is absent. Subscribers are notified once fn returns.
func (s *Store) Patch(key Key, fn func(*Entry)) {
	s.mu.Lock()
	rec := s.ensure(key)
	fn(&rec.entry)
	if len(rec.listeners) == 0 {
		rec.idleSince = s.now()
	}
	n := s.collect(rec)
	s.mu.Unlock()
	n.deliver()
}

// Delete removes key. A key with live subscribers is reset to an idle entry
// instead, so its subscriptions keep working.
func (s *Store) Delete(key Key) bool {
	s.mu.Lock()
	hash := key.Hash()
	rec, ok := s.records[hash]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.generation++
	rec.inflight = false
	if len(rec.listeners) == 0 {
		delete(s.records, hash)
		s.mu.Unlock()
		return true
	}
	rec.entry = Entry{}
	n := s.collect(rec)
	s.mu.Unlock()
	n.deliver()
	return true
}

// KeysMatching returns every stored key accepted by pred, in hash order.
func (s *Store) KeysMatching(pred func(Key) bool) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := make([]string, 0, len(s.records))
	for hash, rec := range s.records {
		if pred == nil || pred(rec.key) {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	out := make([]Key, len(hashes))
	for i, hash := range hashes {
		out[i] = s.records[hash].key
	}
	return out
}

// Subscribe registers l for changes to key, creating an idle entry when the
// key is absent.
func (s *Store) Subscribe(key Key, l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key)
	s.nextID++
	id := s.nextID
	rec.listeners[id] = l
	return &Subscription{store: s, hash: key.Hash(), id: id}
}

// Clear drops every entry. Keys with subscribers are reset rather than removed.
func (s *Store) Clear() {
	s.mu.Lock()
	var pending []flush
	for hash, rec := range s.records {
		rec.generation++
		rec.inflight = false
		if len(rec.listeners) == 0 {
			delete(s.records, hash)
			continue
		}
		rec.entry = Entry{}
		pending = append(pending, s.collect(rec))
	}
	s.mu.Unlock()
	for _, n := range pending {
		n.deliver()
	}
}

// Sweep evicts entries that have had no subscribers for at least gcTime and
// no fetch in flight. It returns the evicted keys.
func (s *Store) Sweep(gcTime time.Duration) []Key {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []Key
	for hash, rec := range s.records {
		if len(rec.listeners) > 0 || rec.inflight {
			continue
		}
		if now.Sub(rec.idleSince) < gcTime {
			continue
		}
		delete(s.records, hash)
		evicted = append(evicted, rec.key)
	}
	return evicted
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// beginFetch joins the in-flight fetch for key or starts a new generation
// and marks the entry pending. Results from superseded generations are
// discarded by settle.
func (s *Store) beginFetch(key Key) uint64 {
	s.mu.Lock()
	rec := s.ensure(key)
	if rec.inflight {
		gen := rec.generation
		s.mu.Unlock()
		return gen
	}
	rec.generation++
	rec.inflight = true
	rec.entry.Status = StatusPending
	gen := rec.generation
	n := s.collect(rec)
	s.mu.Unlock()
	n.deliver()
	return gen
}

// claim lets exactly one runner execute generation gen.
func (s *Store) claim(key Key, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key.Hash()]
	if !ok || rec.generation != gen || rec.claimed == gen {
		return false
	}
	rec.claimed = gen
	return true
}

// generation returns the current generation for key, or zero when absent.
func (s *Store) generation(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key.Hash()]; ok {
		return rec.generation
	}
	return 0
}

// settle applies fn only while gen is still current for key. A final settle
// also ends the in-flight fetch.
func (s *Store) settle(key Key, gen uint64, final bool, fn func(*Entry)) bool {
	s.mu.Lock()
	rec, ok := s.records[key.Hash()]
	if !ok || rec.generation != gen {
		s.mu.Unlock()
		return false
	}
	fn(&rec.entry)
	if final {
		rec.inflight = false
		rec.idleSince = s.now()
	}
	n := s.collect(rec)
	s.mu.Unlock()
	n.deliver()
	return true
}

// cancel supersedes any in-flight fetch for key and reverts a pending status.
func (s *Store) cancel(key Key) bool {
	s.mu.Lock()
	rec, ok := s.records[key.Hash()]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.generation++
	wasInflight := rec.inflight
	rec.inflight = false
	if rec.entry.Status != StatusPending {
		s.mu.Unlock()
		return wasInflight
	}
	switch {
	case rec.entry.HasData():
		rec.entry.Status = StatusSuccess
	case rec.entry.Err != nil:
		rec.entry.Status = StatusError
	default:
		rec.entry.Status = StatusIdle
	}
	n := s.collect(rec)
	s.mu.Unlock()
	n.deliver()
	return true
}

func (s *Store) ensure(key Key) *record {
	hash := key.Hash()
	rec, ok := s.records[hash]
	if !ok {
		rec = &record{
			key:       append(Key(nil), key...),
			listeners: make(map[uint64]Listener),
			idleSince: s.now(),
		}
		s.records[hash] = rec
	}
	return rec
}

// collect queues a notification of rec's current state. It is called with
// s.mu held; the returned flush must be delivered after unlocking. Only the
// first writer to find the queue idle delivers, so listeners see snapshots in
// write order.
func (s *Store) collect(rec *record) flush {
	if len(rec.listeners) == 0 {
		return flush{}
	}
	n := notification{entry: rec.snapshot()}
	ids := make([]uint64, 0, len(rec.listeners))
	for id := range rec.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	n.listeners = make([]Listener, len(ids))
	for i, id := range ids {
		n.listeners[i] = rec.listeners[id]
	}
	rec.pending = append(rec.pending, n)
	if rec.draining {
		return flush{}
	}
	rec.draining = true
	return flush{s: s, rec: rec}
}

// Subscription is a handle returned by Store.Subscribe.
type Subscription struct {
	store *Store
	hash  string
	id    uint64
	once  sync.Once
}

// Unsubscribe detaches the listener. It is safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.records[sub.hash]
		if !ok {
			return
		}
		delete(rec.listeners, sub.id)
		if len(rec.listeners) == 0 {
			rec.idleSince = s.now()
		}
	})
}
