// Package query is the client-side data layer: a keyed cache of server
// state, a runner that fills it with deduplicated, retried fetches, and a
// mutation runner that applies optimistic writes and rolls them back exactly
// when the server rejects them.
//
// Entries are fresh for Policy.StaleTime after a successful fetch. A read of
// stale data returns it immediately and revalidates in the background.
// Entries without subscribers are evicted once Policy.GCTime has passed.
package query
