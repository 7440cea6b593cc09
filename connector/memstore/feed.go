package memstore

import (
	"context"
	"sync"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
)

// feed is an append-only event log. Appends wake every waiting stream.
type feed struct {
	mu     sync.Mutex
	events []connector.ChangeEvent
	notify chan struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{notify: make(chan struct{})}
}

func (f *feed) push(ev connector.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.events = append(f.events, ev)
	close(f.notify)
	f.notify = make(chan struct{})
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true
	close(f.notify)
}

func (f *feed) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.events)
}

// Watch returns a stream of the collection's writes made after the call.
func (s *Store) Watch(_ context.Context, collection string) (connector.ChangeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}

	f := s.feedLocked(collection)

	return &stream{feed: f, pos: f.len(), done: make(chan struct{})}, nil
}

type stream struct {
	feed *feed
	pos  int

	once sync.Once
	done chan struct{}
}

func (st *stream) Next(ctx context.Context) (connector.ChangeEvent, error) {
	for {
		st.feed.mu.Lock()

		if st.pos < len(st.feed.events) {
			ev := st.feed.events[st.pos]
			st.pos++
			st.feed.mu.Unlock()

			return ev, nil
		}

		closed := st.feed.closed
		wait := st.feed.notify
		st.feed.mu.Unlock()

		if closed {
			return connector.ChangeEvent{}, connector.ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return connector.ChangeEvent{}, ctx.Err() //nolint:wrapcheck
		case <-st.done:
			return connector.ChangeEvent{}, connector.ErrStreamClosed
		case <-wait:
		}
	}
}

func (st *stream) Close(context.Context) error {
	st.once.Do(func() { close(st.done) })

	return nil
}
