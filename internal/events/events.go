// Package events delivers session events to callers and external consumers.
package events

import (
	"sync"

	"github.com/vinayprograms/reviewd/internal/session"
)

// Sink receives session events as a pipeline runs. Publish must not block
// pipeline progress; sinks that can stall must drop or buffer.
type Sink interface {
	Publish(sessionID string, evt session.Event)
	Close() error
}

// ChannelSink delivers events to an in-process channel, the streamed
// interface callers consume. Events are dropped when the buffer is full so
// a slow consumer can never stall a pipeline.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan session.Event
	closed bool
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan session.Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan session.Event {
	return s.ch
}

// Publish delivers an event, dropping it if the buffer is full or the sink
// is closed. A sink inside a MultiSink can be closed while another producer
// still holds the fan-out, so a late publish must be a no-op, not a panic.
func (s *ChannelSink) Publish(sessionID string, evt session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &MultiSink{sinks: active}
}

// Publish delivers the event to every sink.
func (m *MultiSink) Publish(sessionID string, evt session.Event) {
	for _, s := range m.sinks {
		s.Publish(sessionID, evt)
	}
}

// Close closes all sinks, returning the first error.
func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
