package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps events in process. Each session retains at most
// maxEvents events, evicting the oldest first.
type MemoryStore struct {
	mu        sync.Mutex
	maxEvents int
	sessions  map[Key][]Event
	now       func() time.Time
}

// NewMemoryStore creates an in-memory store. maxEvents <= 0 keeps everything.
func NewMemoryStore(maxEvents int) *MemoryStore {
	return &MemoryStore{
		maxEvents: maxEvents,
		sessions:  make(map[Key][]Event),
		now:       time.Now,
	}
}

// Append stores turns as one event.
func (s *MemoryStore) Append(_ context.Context, key Key, turns []Turn) error {
	if err := validate(turns); err != nil {
		return storeErr("append", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := append(s.sessions[key], newEvent(turns, s.now()))
	if s.maxEvents > 0 && len(existing) > s.maxEvents {
		existing = existing[len(existing)-s.maxEvents:]
	}
	s.sessions[key] = existing
	return nil
}

// List returns the most recent max events, oldest first.
func (s *MemoryStore) List(_ context.Context, key Key, max int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.sessions[key], max), nil
}

// Len reports how many events a session holds.
func (s *MemoryStore) Len(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[key])
}
