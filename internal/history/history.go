// Package history keeps the bounded, deduplicated collection of finished
// crawl tasks. Insertion is an upsert keyed by task id: a provisional
// terminal snapshot can be corrected by the authoritative one fetched
// moments later without growing the collection.
package history

import (
	"sync"

	"github.com/okjin/crawlwatch/internal/task"
)

// Bound is the number of most recent entries retained; oldest evicted first.
const Bound = 10

type Store interface {
	// Upsert records a terminal snapshot. An existing entry with the same
	// task id is replaced in place; a new entry is prepended and the store
	// truncated to Bound.
	Upsert(t *task.Task) error
	// Recent returns entries newest-first.
	Recent() ([]*task.Task, error)
	Close() error
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries []*task.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Upsert(t *task.Task) error {
	snapshot := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID == snapshot.ID {
			s.entries[i] = snapshot
			return nil
		}
	}

	s.entries = append([]*task.Task{snapshot}, s.entries...)
	if len(s.entries) > Bound {
		s.entries = s.entries[:Bound]
	}
	return nil
}

func (s *MemoryStore) Recent() ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*task.Task, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
