package cache

import (
	"sync/atomic"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Entry is a cached payload. Entries are replaced, never mutated, apart from
// the last-access timestamp.
type Entry struct {
	Key       string
	Payload   []byte
	Validator string
	Priority  model.Priority
	TTL       time.Duration
	CreatedAt time.Time

	lastAccess atomic.Int64
}

func newEntry(key string, payload []byte, validator string, p model.Priority, ttl time.Duration, now time.Time) *Entry {
	e := &Entry{
		Key:       key,
		Payload:   payload,
		Validator: validator,
		Priority:  p,
		TTL:       ttl,
		CreatedAt: now,
	}
	e.lastAccess.Store(now.UnixNano())
	return e
}

// ExpiresAt is the end of the entry's freshness window.
func (e *Entry) ExpiresAt() time.Time { return e.CreatedAt.Add(e.TTL) }

// Fresh reports whether the entry may be served at now.
func (e *Entry) Fresh(now time.Time) bool { return now.Before(e.ExpiresAt()) }

// Age is the time since the entry was stored or last revalidated.
func (e *Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// LastAccess is the last time the entry was served.
func (e *Entry) LastAccess() time.Time { return time.Unix(0, e.lastAccess.Load()) }

func (e *Entry) touch(now time.Time) { e.lastAccess.Store(now.UnixNano()) }
