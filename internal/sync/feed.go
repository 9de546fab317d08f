package sync

import (
	stdsync "sync"
)

// DefaultFeedBuffer is the per-subscriber buffer used by Subscribe.
const DefaultFeedBuffer = 16

// Feed fans values out to every current subscriber. Publishing never blocks:
// a subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	mu     stdsync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

func newFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// The returned cancel func unsubscribes and closes the channel; it is safe to
// call more than once.
func (f *Feed[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// publish delivers v to every subscriber and returns how many were skipped
// because their buffer was full.
func (f *Feed[T]) publish(v T) (dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// close closes every subscriber channel and rejects new subscriptions.
func (f *Feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
