package pipeline

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
)

// LoopState is the terminal state of a refinement loop.
type LoopState string

const (
	LoopSucceeded        LoopState = "succeeded"
	LoopExhaustedPartial LoopState = "exhausted_partial"
	LoopExhaustedFailed  LoopState = "exhausted_failed"
)

// Verdict grades one loop iteration.
type Verdict string

const (
	VerdictSuccessful Verdict = "successful"
	VerdictPartial    Verdict = "partial"
	VerdictFailed     Verdict = "failed"
)

// DefaultMaxIterations bounds a loop whose config does not say otherwise.
const DefaultMaxIterations = 3

// IterationOutcome records one pass through the loop body.
type IterationOutcome struct {
	Index     int // 1-based
	Verdict   Verdict
	Escalated bool
	Reason    string
	Err       error
}

// LoopResult is the terminal result of a loop run.
type LoopResult struct {
	Terminal   LoopState
	Iterations []IterationOutcome
	Reason     string
}

// VerdictFunc grades a completed iteration from the post-iteration state
// snapshot. It is consulted only when the iteration's stages all succeeded;
// a stage failure is a failed iteration regardless.
type VerdictFunc func(view state.View) Verdict

// LoopController repeats an inner pipeline up to a fixed attempt budget.
// The only successful exit is an explicit escalation raised through the
// reserved exit tool; exhausting the budget is terminal but not success.
// Session state carries across iterations, so each pass sees its
// predecessors' writes.
type LoopController struct {
	name      string
	body      *Composer
	max       int
	verdictFn VerdictFunc
	logger    *logging.Logger
}

// NewLoopController builds a loop around body. max <= 0 selects the default
// budget.
func NewLoopController(name string, body *Composer, max int, verdictFn VerdictFunc) *LoopController {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	body.inLoop = true
	return &LoopController{
		name:      name,
		body:      body,
		max:       max,
		verdictFn: verdictFn,
		logger:    logging.New().WithComponent("loop"),
	}
}

// Run executes the loop to a terminal state. It never returns early on a
// failed iteration: a failure consumes one attempt and the next iteration
// proceeds.
func (l *LoopController) Run(ctx context.Context, rt *Runtime) *LoopResult {
	ctx, span := startLoopSpan(ctx, l.name, l.max)

	var outcomes []IterationOutcome

	for i := 1; i <= l.max; i++ {
		// An iteration that never started spends no attempt; the terminal
		// reason reports the cancellation instead of a spent budget.
		if ctx.Err() != nil {
			break
		}

		rt.emit(session.Event{Type: session.EventIterStart, Pipeline: l.name, Iteration: i})

		result := l.body.run(ctx, rt, i)
		escalated, reason := rt.takeExit()

		outcome := IterationOutcome{Index: i, Escalated: escalated, Reason: reason}
		switch {
		case result.Status != StatusOk:
			// An inner failure is this iteration's verdict, not a loop
			// abort. The attempt is spent.
			outcome.Verdict = VerdictFailed
			outcome.Err = result.Err
			if reason == "" {
				outcome.Reason = string(result.Cause)
			}
		case l.verdictFn != nil:
			outcome.Verdict = l.verdictFn(rt.State.Snapshot())
		default:
			outcome.Verdict = VerdictPartial
		}
		outcomes = append(outcomes, outcome)

		success := outcome.Verdict != VerdictFailed
		rt.emit(session.Event{
			Type:      session.EventIterEnd,
			Pipeline:  l.name,
			Iteration: i,
			Verdict:   string(outcome.Verdict),
			Success:   &success,
		})

		if escalated {
			rt.emit(session.Event{Type: session.EventEscalation, Pipeline: l.name, Iteration: i, Content: reason})
			l.logger.Info("loop escalated", map[string]interface{}{
				"loop":      l.name,
				"iteration": i,
				"reason":    reason,
			})
			endLoopSpan(span, LoopSucceeded, i)
			return &LoopResult{Terminal: LoopSucceeded, Iterations: outcomes, Reason: reason}
		}
	}

	// Budget exhausted without escalation. The last iteration's verdict
	// decides whether the work is partially usable.
	terminal := LoopExhaustedFailed
	reason := fmt.Sprintf("no escalation within %d attempts", l.max)
	if err := ctx.Err(); err != nil {
		reason = fmt.Sprintf("cancelled after %d of %d attempts: %v", len(outcomes), l.max, err)
	}
	if len(outcomes) > 0 && outcomes[len(outcomes)-1].Verdict == VerdictPartial {
		terminal = LoopExhaustedPartial
	}

	l.logger.Warn("loop exhausted", map[string]interface{}{
		"loop":     l.name,
		"attempts": len(outcomes),
		"terminal": string(terminal),
	})
	rt.emit(session.Event{Type: session.EventWarning, Pipeline: l.name, Content: reason, Verdict: string(terminal)})
	endLoopSpan(span, terminal, len(outcomes))

	return &LoopResult{Terminal: terminal, Iterations: outcomes, Reason: reason}
}

// LoopStage adapts a loop controller into a composable stage so an outer
// pipeline can run stages after the loop regardless of how it ended. The
// stage itself succeeds whenever the loop reaches any terminal state; the
// terminal state and attempt count are published as ordinary state writes.
type LoopStage struct {
	loop       *LoopController
	reads      []state.Key
	statusKey  state.Key
	attemptKey state.Key

	// Result of the most recent run, for the router's terminal report.
	lastResult *LoopResult
}

// NewLoopStage wraps loop. reads declare the keys the loop body needs from
// earlier stages; statusKey and attemptKey receive the terminal state and
// attempts used.
func NewLoopStage(loop *LoopController, reads []state.Key, statusKey, attemptKey state.Key) *LoopStage {
	return &LoopStage{loop: loop, reads: reads, statusKey: statusKey, attemptKey: attemptKey}
}

func (s *LoopStage) Name() string { return s.loop.name }

func (s *LoopStage) Reads() []state.Key { return s.reads }

func (s *LoopStage) Writes() []state.Key {
	writes := []state.Key{s.statusKey, s.attemptKey}
	for _, stage := range s.loop.body.stages {
		writes = append(writes, stage.Writes()...)
	}
	return writes
}

func (s *LoopStage) Run(ctx context.Context, sc *Context) StageResult {
	result := s.loop.Run(ctx, sc.rt)
	s.lastResult = result

	sc.Put(s.statusKey, string(result.Terminal))
	sc.Put(s.attemptKey, len(result.Iterations))
	return Ok()
}

// LastResult returns the loop result of the most recent run, nil before any
// run.
func (s *LoopStage) LastResult() *LoopResult {
	return s.lastResult
}
