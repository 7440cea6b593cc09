package txn

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Log stores live transaction records. The coordinator serializes access,
// so implementations need no locking of their own.
type Log interface {
	Put(rec *Record)
	Get(id string) (*Record, bool)
	Delete(id string)
	List() []*Record
	Len() int
}

// MemLog is an in-memory [Log].
type MemLog struct {
	recs map[string]*Record
}

var _ Log = (*MemLog)(nil)

func NewMemLog() *MemLog {
	return &MemLog{recs: make(map[string]*Record)}
}

func (l *MemLog) Put(rec *Record) {
	l.recs[rec.ID] = rec
}

func (l *MemLog) Get(id string) (*Record, bool) {
	rec, ok := l.recs[id]

	return rec, ok
}

func (l *MemLog) Delete(id string) {
	delete(l.recs, id)
}

// List returns records ordered by start time.
func (l *MemLog) List() []*Record {
	rv := make([]*Record, 0, len(l.recs))
	for _, rec := range l.recs {
		rv = append(rv, rec)
	}

	slices.SortFunc(rv, func(a, b *Record) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return rv
}

func (l *MemLog) Len() int {
	return len(l.recs)
}

// archive keeps the most recent terminal records.
type archive struct {
	mu   sync.Mutex
	size int
	recs []Record
}

func newArchive(size int) *archive {
	return &archive{size: size}
}

func (a *archive) add(rec Record) {
	if a.size <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.recs) == a.size {
		a.recs = slices.Delete(a.recs, 0, 1)
	}

	a.recs = append(a.recs, rec)
}

func (a *archive) get(id string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.recs) - 1; i >= 0; i-- {
		if a.recs[i].ID == id {
			return a.recs[i].clone(), true
		}
	}

	return Record{}, false
}

func (a *archive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.recs)
}

// abandoned reports whether a live record has been idle past the deadline.
func abandoned(rec *Record, now time.Time, after time.Duration) bool {
	return !rec.Status.Terminal() && !rec.busy && !rec.Escalated && now.Sub(rec.StartedAt) > after
}
