package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// queue admits one holder per key at a time. Waiters are served in arrival
// order. Slots are dropped once nobody holds or waits on them.
type queue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func newQueue() *queue {
	return &queue{slots: make(map[string]*slot)}
}

// acquire blocks until key is free or ctx is done. The returned func
// releases the key and must be called exactly once.
func (q *queue) acquire(ctx context.Context, key string) (func(), error) {
	q.mu.Lock()
	s, ok := q.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		q.slots[key] = s
	}
	s.refs++
	q.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		q.unref(key, s)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.sem.Release(1)
			q.unref(key, s)
		})
	}, nil
}

func (q *queue) unref(key string, s *slot) {
	q.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, key)
	}
	q.mu.Unlock()
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
