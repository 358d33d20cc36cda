package state

import (
	"context"
	"sync"
)

// UserStore persists user-scoped state across sessions. Append and Increment
// are monotonic: concurrent submissions by the same submitter must not lose
// history entries or counter updates.
type UserStore interface {
	Get(ctx context.Context, submitter string, key Key) (Value, bool, error)
	Set(ctx context.Context, submitter string, key Key, value Value) error
	Append(ctx context.Context, submitter string, key Key, item Value) error
	// Increment atomically adds one to an integer counter, creating it at 1,
	// and returns the new value.
	Increment(ctx context.Context, submitter string, key Key) (int, error)
	Snapshot(ctx context.Context, submitter string) (View, error)
	Close() error
}

// InMemoryUserStore is an in-memory UserStore for tests and ephemeral runs.
// All data is lost when the process exits.
type InMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]map[Key]Value
}

// NewInMemoryUserStore creates a new in-memory user store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]map[Key]Value)}
}

func (s *InMemoryUserStore) record(submitter string) map[Key]Value {
	rec, ok := s.users[submitter]
	if !ok {
		rec = make(map[Key]Value)
		s.users[submitter] = rec
	}
	return rec
}

// Get returns the value for one user-scoped key.
func (s *InMemoryUserStore) Get(ctx context.Context, submitter string, key Key) (Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[submitter]
	if !ok {
		return nil, false, nil
	}
	val, ok := rec[key]
	return val, ok, nil
}

// Set stores one user-scoped value. Last writer wins.
func (s *InMemoryUserStore) Set(ctx context.Context, submitter string, key Key, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(submitter)[key] = value
	return nil
}

// Append adds an item to a list-valued key. The whole read-modify-write
// happens under the store lock, so concurrent appends never lose entries.
func (s *InMemoryUserStore) Append(ctx context.Context, submitter string, key Key, item Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(submitter)
	list, _ := rec[key].([]Value)
	rec[key] = append(list, item)
	return nil
}

// Increment adds one to a counter under the store lock, so concurrent
// submissions by the same submitter never lose an update.
func (s *InMemoryUserStore) Increment(ctx context.Context, submitter string, key Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(submitter)
	n := counterValue(rec[key]) + 1
	rec[key] = n
	return n, nil
}

// counterValue reads an integer counter that may have round-tripped through
// JSON (where numbers decode as float64).
func counterValue(v Value) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Snapshot returns a copy of all user-scoped values for one submitter.
func (s *InMemoryUserStore) Snapshot(ctx context.Context, submitter string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := make(View)
	for k, v := range s.users[submitter] {
		view[k] = v
	}
	return view, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryUserStore) Close() error { return nil }
