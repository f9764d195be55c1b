package ledger

import (
	"context"
	"sync"

	"chekitimer/internal/engine"
)

type memoryStore struct {
	mu     sync.Mutex
	recs   []Record
	next   int64
	closed bool
}

// NewMemory returns an in-process store.
func NewMemory() Store { return &memoryStore{next: 1} }

func (s *memoryStore) Append(_ context.Context, rec engine.SessionRecord) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	r := Record{Seq: s.next, SessionRecord: rec}
	s.next++
	s.recs = append(s.recs, r)
	return r, nil
}

func (s *memoryStore) List(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]Record(nil), s.recs...), nil
}

func (s *memoryStore) Delete(_ context.Context, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	for i, r := range s.recs {
		if r.Seq == seq {
			s.recs = append(s.recs[:i], s.recs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) Reset(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := len(s.recs)
	s.recs = nil
	return n, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
