package optimistic

import (
	"context"
	"sync"
)

// keyedQueue serializes work per key. Waiters on the same key are admitted in
// arrival order; keys with no holder and no waiter are forgotten.
type keyedQueue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	turn chan struct{}
	refs int
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{slots: make(map[string]*slot)}
}

// acquire blocks until key is free or ctx is done. The returned release must
// be called exactly once.
func (q *keyedQueue) acquire(ctx context.Context, key string) (func(), error) {
	q.mu.Lock()
	s, ok := q.slots[key]
	if !ok {
		s = &slot{turn: make(chan struct{}, 1)}
		q.slots[key] = s
	}
	s.refs++
	q.mu.Unlock()

	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		q.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.turn
			q.unref(key, s)
		})
	}, nil
}

func (q *keyedQueue) unref(key string, s *slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.refs--
	if s.refs == 0 && q.slots[key] == s {
		delete(q.slots, key)
	}
}

// size is the number of keys currently held or waited on.
func (q *keyedQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
