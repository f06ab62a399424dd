package query

import (
	"time"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
)

// Status is the per-key fetch state.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Entry is a point-in-time copy of a cached query. Store methods always hand
// out copies, so an Entry never changes after it is returned.
type Entry struct {
	// Data is the last successful result. It survives later failures and
	// background revalidation.
	Data any
	// Err is the terminal error of the most recent failed fetch.
	Err          *apierr.RequestError
	Status       Status
	UpdatedAt    time.Time
	ErrUpdatedAt time.Time
	// RetryCount is the number of automatic retries performed by the current
	// or most recent fetch. It resets to zero on success.
	RetryCount int
	// SubscriberCount is maintained by the store from live subscriptions;
	// it is ignored on writes.
	SubscriberCount int
	// Invalidated forces the next read to revalidate regardless of age.
	Invalidated bool
}

// HasData reports whether the entry holds a result.
func (e Entry) HasData() bool { return e.Data != nil }

// IsPending reports an in-flight fetch.
func (e Entry) IsPending() bool { return e.Status == StatusPending }

// IsStale derives freshness from UpdatedAt and the staleness window.
func (e Entry) IsStale(now time.Time, staleTime time.Duration) bool {
	if e.Invalidated || e.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(e.UpdatedAt) >= staleTime
}
