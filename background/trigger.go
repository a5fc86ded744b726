package background

import (
	"sync"
	"time"
)

// Trigger registers the next time the host should invoke a run.
type Trigger interface {
	Register(earliest time.Time) error
	Supported() bool
}

// NewTrigger picks the host variant when the host reports background
// support and fn is set.
func NewTrigger(supported bool, fn func(time.Time) error) Trigger {
	if !supported || fn == nil {
		return NoopTrigger{}
	}
	return &HostTrigger{fn: fn}
}

// HostTrigger forwards registrations to the host.
type HostTrigger struct {
	fn func(time.Time) error

	mu   sync.Mutex
	last time.Time
}

func (h *HostTrigger) Register(earliest time.Time) error {
	h.mu.Lock()
	h.last = earliest
	h.mu.Unlock()
	return h.fn(earliest)
}

func (h *HostTrigger) Supported() bool { return true }

// Last is the most recently registered time.
func (h *HostTrigger) Last() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// NoopTrigger is used where the host cannot schedule background work.
type NoopTrigger struct{}

func (NoopTrigger) Register(time.Time) error { return nil }
func (NoopTrigger) Supported() bool          { return false }
