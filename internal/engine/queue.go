package engine

import (
	"sort"
	"sync"
)

// QueueStore holds per-key FIFOs of specs waiting for their key to free up.
// Writes are unexported; only Registry mutates a queue.
type QueueStore struct {
	mu     sync.RWMutex
	queues map[string][]Spec
}

func newQueueStore() *QueueStore {
	return &QueueStore{queues: map[string][]Spec{}}
}

func (q *QueueStore) push(key string, spec Spec) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[key] = append(q.queues[key], spec)
	return len(q.queues[key])
}

func (q *QueueStore) pop(key string) (Spec, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.queues[key]
	if len(list) == 0 {
		return Spec{}, false
	}
	front := list[0]
	if len(list) == 1 {
		delete(q.queues, key)
	} else {
		q.queues[key] = append([]Spec(nil), list[1:]...)
	}
	return front, true
}

func (q *QueueStore) Len(key string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[key])
}

// List returns a copy of the key's queue, front first.
func (q *QueueStore) List(key string) []Spec {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Spec(nil), q.queues[key]...)
}

// Keys returns every key with a non-empty queue, sorted.
func (q *QueueStore) Keys() []string {
	q.mu.RLock()
	keys := make([]string, 0, len(q.queues))
	for k := range q.queues {
		keys = append(keys, k)
	}
	q.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
