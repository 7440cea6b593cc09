package repl

import (
	"sync"
	"time"

	"github.com/percona/percona-docbridge/connector"
)

const DefaultDeadLetterCapacity = 1000

// DeadLetter is a batch that could not be replayed.
type DeadLetter struct {
	Collection string
	Events     []connector.ChangeEvent
	Attempts   int
	Err        error
	At         time.Time
}

// DeadLetters keeps the most recent dead letters in a ring.
type DeadLetters struct {
	mu    sync.Mutex
	ring  []DeadLetter
	next  int
	full  bool
	total int64
}

// NewDeadLetters creates a ring of the given capacity. A non-positive capacity
// uses [DefaultDeadLetterCapacity].
func NewDeadLetters(capacity int) *DeadLetters {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}

	return &DeadLetters{ring: make([]DeadLetter, capacity)}
}

// Add records dl, evicting the oldest entry when the ring is full.
func (d *DeadLetters) Add(dl DeadLetter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ring[d.next] = dl
	d.next = (d.next + 1) % len(d.ring)
	d.total++

	if d.next == 0 {
		d.full = true
	}
}

// List returns the kept dead letters, oldest first.
func (d *DeadLetters) List() []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.full {
		return append([]DeadLetter(nil), d.ring[:d.next]...)
	}

	rv := make([]DeadLetter, 0, len(d.ring))
	rv = append(rv, d.ring[d.next:]...)
	rv = append(rv, d.ring[:d.next]...)

	return rv
}

func (d *DeadLetters) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.full {
		return len(d.ring)
	}

	return d.next
}

// Total counts every dead letter ever added, including evicted ones.
func (d *DeadLetters) Total() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.total
}
