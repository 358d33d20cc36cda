// Package session provides review session records and persistence.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase values for a session. Only the router switches phases.
const (
	PhaseIdle   = "idle"
	PhaseReview = "review"
	PhaseFix    = "fix"
)

// Event types for the session log.
const (
	EventSubmission    = "submission"     // New code submission accepted
	EventPipelineStart = "pipeline_start" // Review or fix pipeline begins
	EventPipelineEnd   = "pipeline_end"   // Pipeline reached a terminal result
	EventStageStart    = "stage_start"
	EventStageEnd      = "stage_end"
	EventIterStart     = "iteration_start" // One fix-loop pass begins
	EventIterEnd       = "iteration_end"   // One fix-loop pass ends with a verdict
	EventToolCall      = "tool_call"
	EventToolResult    = "tool_result"
	EventEscalation    = "escalation" // signal_exit raised inside the loop
	EventFixOffer      = "fix_offer"  // Review found the submission fix-worthy
	EventWarning       = "warning"
)

// Record identifies one review conversation.
type Record struct {
	ID        string    `json:"id"`
	Submitter string    `json:"submitter"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Events    []Event   `json:"events"`

	// Internal state (not persisted)
	seqCounter uint64
	mu         sync.Mutex
}

// Event is a single entry in the session log. The event stream is what
// callers observe while a pipeline runs, and the persisted record of what
// happened afterwards.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Context - where in execution this happened
	Pipeline  string `json:"pipeline,omitempty"`  // "review" or "fix"
	Stage     string `json:"stage,omitempty"`     // Stage name
	Iteration int    `json:"iteration,omitempty"` // 1-based fix-loop iteration

	// Content
	Content string                 `json:"content,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	// Outcome
	Success    *bool  `json:"success,omitempty"` // nil = in progress
	Verdict    string `json:"verdict,omitempty"` // iteration verdict or terminal loop state
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// New creates a fresh idle session record for a submitter.
func New(submitter string) *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.New().String(),
		Submitter: submitter,
		Phase:     PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
		Events:    []Event{},
	}
}

// AddEvent appends an event with automatic sequencing and returns its SeqID.
func (r *Record) AddEvent(event Event) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.SeqID = atomic.AddUint64(&r.seqCounter, 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.Events = append(r.Events, event)
	r.UpdatedAt = time.Now()
	return event.SeqID
}

// EventCount returns the number of logged events.
func (r *Record) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Events)
}

// SetPhase updates the session phase. Callers outside the router must not
// use this.
func (r *Record) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase = phase
	r.UpdatedAt = time.Now()
}

// CurrentPhase returns the session phase.
func (r *Record) CurrentPhase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Phase
}

// restoreSeq resets the sequence counter after loading from disk.
func (r *Record) restoreSeq() {
	if len(r.Events) > 0 {
		r.seqCounter = r.Events[len(r.Events)-1].SeqID
	}
}

// Store is the interface for session persistence.
type Store interface {
	Save(rec *Record) error
	Load(id string) (*Record, error)
}

// Manager manages session records.
type Manager struct {
	store Store
	mu    sync.Mutex
	live  map[string]*Record
}

// NewManager creates a new session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store, live: make(map[string]*Record)}
}

// Create creates and persists a new session.
func (m *Manager) Create(submitter string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := New(submitter)
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}
	m.live[rec.ID] = rec
	return rec, nil
}

// Get retrieves a session, preferring the live record so in-flight event
// counters survive across pipeline runs in the same process.
func (m *Manager) Get(id string) (*Record, error) {
	m.mu.Lock()
	if rec, ok := m.live[id]; ok {
		m.mu.Unlock()
		return rec, nil
	}
	m.mu.Unlock()

	rec, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.live[id] = rec
	m.mu.Unlock()
	return rec, nil
}

// Update persists changes to a session.
func (m *Manager) Update(rec *Record) error {
	rec.UpdatedAt = time.Now()
	return m.store.Save(rec)
}
