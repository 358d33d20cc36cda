// Package pipeline sequences review stages over shared session state. A
// composer runs stages strictly in order, committing each stage's writes
// only when it reports success; the loop controller repeats an inner
// composer up to an attempt budget with an explicit exit protocol.
package pipeline

import (
	"context"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/toolkit"
)

// Stage is one unit of pipeline work. Reads and Writes declare the
// session-scoped keys the stage depends on and produces; the composer
// verifies reads are satisfiable at build time. Run must treat its Context
// view as immutable and report all outcomes through the StageResult rather
// than panicking.
type Stage interface {
	Name() string
	Reads() []state.Key
	Writes() []state.Key
	Run(ctx context.Context, sc *Context) StageResult
}

// StageResult is the verdict of one stage execution. Failures are data, not
// panics: the composer decides what a failure means for the run.
type StageResult struct {
	Status Status
	Cause  Cause
	Err    error
}

// Ok returns a successful stage result.
func Ok() StageResult {
	return StageResult{Status: StatusOk}
}

// Fail returns a failed stage result with its classified cause.
func Fail(cause Cause, err error) StageResult {
	return StageResult{Status: StatusError, Cause: cause, Err: err}
}

// Context is the execution environment handed to a stage. View and User are
// snapshots taken when the stage starts; writes are buffered and committed
// by the composer only when the stage succeeds, so a failing stage leaves no
// partial writes behind.
type Context struct {
	View      state.View
	User      state.View
	Iteration int
	Logger    *logging.Logger

	rt     *Runtime
	tool   *toolkit.Context
	writes map[state.Key]state.Value
}

// Submitter returns the submitting user's ID.
func (sc *Context) Submitter() string { return sc.rt.Session.Submitter }

// Put buffers a session-scoped write. It takes effect only if the stage
// returns Ok.
func (sc *Context) Put(key state.Key, value state.Value) {
	if sc.writes == nil {
		sc.writes = make(map[state.Key]state.Value)
	}
	sc.writes[key] = value
}

// Invoke calls a tool through the gateway with this stage's tool context.
func (sc *Context) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	return sc.rt.Gateway.Invoke(ctx, name, args, sc.tool)
}
