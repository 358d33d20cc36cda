package state

import (
	"encoding/json"
	"sync"
)

// Value is any JSON-serializable state value.
type Value = interface{}

// View is an immutable snapshot of state handed to a stage at invocation
// time. Reads of absent keys return ok=false, never an error.
type View map[Key]Value

// Get returns the value for key, with ok=false when the key is absent.
func (v View) Get(key Key) (Value, bool) {
	val, ok := v[key]
	return val, ok
}

// GetString returns the string value for key, or "" when absent or not a string.
func (v View) GetString(key Key) string {
	if val, ok := v[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt returns the integer value for key. JSON round-trips store numbers
// as float64, so both forms are accepted.
func (v View) GetInt(key Key) int {
	switch n := v[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

// GetFloat returns the float value for key, or 0 when absent.
func (v View) GetFloat(key Key) float64 {
	switch n := v[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return 0
}

// GetBool returns the boolean value for key, or false when absent.
func (v View) GetBool(key Key) bool {
	if val, ok := v[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// SessionState holds the session-scoped state for one review conversation.
// Writes land as all-or-nothing batches: a stage accumulates writes in its
// own buffer and the composer applies them only after the stage reports Ok,
// so no stage ever observes another stage's in-progress partial writes.
type SessionState struct {
	mu     sync.RWMutex
	values map[Key]Value
}

// NewSessionState creates an empty session state.
func NewSessionState() *SessionState {
	return &SessionState{values: make(map[Key]Value)}
}

// Get returns the current value for key.
func (s *SessionState) Get(key Key) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

// Set stores a single value. Last writer wins.
func (s *SessionState) Set(key Key, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Apply commits a batch of writes atomically.
func (s *SessionState) Apply(writes map[Key]Value) {
	if len(writes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range writes {
		s.values[k] = v
	}
}

// Snapshot returns an immutable copy of the current state.
func (s *SessionState) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := make(View, len(s.values))
	for k, v := range s.values {
		view[k] = v
	}
	return view
}

// Reset clears all session keys. Called when a new submission starts a
// fresh review pass.
func (s *SessionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[Key]Value)
}

// Len returns the number of populated keys.
func (s *SessionState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
