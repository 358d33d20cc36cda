package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/reviewd/internal/events"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/toolkit"
)

// Runtime bundles the per-run collaborators a composer needs: the session
// being reviewed, its state, the tool gateway, and the event sink. One
// Runtime serves one pipeline run; the router constructs it.
type Runtime struct {
	Session      *session.Record
	State        *state.SessionState
	Users        state.UserStore
	Gateway      *toolkit.Gateway
	Sink         events.Sink
	StageTimeout time.Duration

	mu         sync.Mutex
	exitRaised bool
	exitReason string
}

// signalExit records an exit request from the reserved tool. Reset per loop
// iteration by takeExit.
func (rt *Runtime) signalExit(reason string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.exitRaised = true
	rt.exitReason = reason
}

// takeExit returns and clears the pending exit request.
func (rt *Runtime) takeExit() (bool, string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	raised, reason := rt.exitRaised, rt.exitReason
	rt.exitRaised = false
	rt.exitReason = ""
	return raised, reason
}

// emit logs an event in the session record and forwards it to the sink.
func (rt *Runtime) emit(evt session.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.SeqID = rt.Session.AddEvent(evt)
	if rt.Sink != nil {
		rt.Sink.Publish(rt.Session.ID, evt)
	}
}

// userSnapshot returns the submitter's persistent state, or an empty view
// when the store is unreachable. User state is advisory input to stages.
func (rt *Runtime) userSnapshot(ctx context.Context) state.View {
	if rt.Users == nil {
		return state.View{}
	}
	view, err := rt.Users.Snapshot(ctx, rt.Session.Submitter)
	if err != nil {
		return state.View{}
	}
	return view
}

// toolContext builds the toolkit context for one stage invocation.
func (rt *Runtime) toolContext(view state.View, inLoop bool) *toolkit.Context {
	tc := &toolkit.Context{
		Session:   rt.Session,
		Submitter: rt.Session.Submitter,
		View:      view,
		Users:     rt.Users,
	}
	if inLoop {
		tc.OnExit = rt.signalExit
	}
	return tc
}
