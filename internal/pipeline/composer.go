package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
)

// Composer runs stages strictly in declaration order. Construction validates
// the composition: every declared read must be satisfied by a seed key or an
// earlier stage's writes, so a structurally broken pipeline fails before any
// stage runs.
type Composer struct {
	name   string
	stages []Stage
	inLoop bool
	logger *logging.Logger
}

// Result is the terminal outcome of one composer run. On error the state
// snapshot still reflects every commit made by stages that succeeded before
// the failure; there is no rollback.
type Result struct {
	Status       Status
	FailingStage string
	Cause        Cause
	Err          error
	State        state.View
}

// NewComposer validates and builds a pipeline. seeds are the session keys
// guaranteed present before the first stage runs.
func NewComposer(name string, seeds []state.Key, stages ...Stage) (*Composer, error) {
	if len(stages) == 0 {
		return nil, &CompositionError{Pipeline: name, Reason: "pipeline has no stages"}
	}

	available := make(map[state.Key]bool)
	for _, key := range seeds {
		available[key] = true
	}

	seen := make(map[string]bool)
	for _, stage := range stages {
		if seen[stage.Name()] {
			return nil, &CompositionError{Pipeline: name, Stage: stage.Name(), Reason: "duplicate stage name"}
		}
		seen[stage.Name()] = true

		for _, key := range stage.Reads() {
			if !key.Known() {
				return nil, &CompositionError{Pipeline: name, Stage: stage.Name(),
					Reason: fmt.Sprintf("reads unknown key %q", key)}
			}
			if key.UserScoped() {
				// Persistent scope is always readable.
				continue
			}
			if !available[key] {
				return nil, &CompositionError{Pipeline: name, Stage: stage.Name(),
					Reason: fmt.Sprintf("reads %q before any stage writes it", key)}
			}
		}
		for _, key := range stage.Writes() {
			if !key.Known() {
				return nil, &CompositionError{Pipeline: name, Stage: stage.Name(),
					Reason: fmt.Sprintf("writes unknown key %q", key)}
			}
			if key.UserScoped() {
				return nil, &CompositionError{Pipeline: name, Stage: stage.Name(),
					Reason: fmt.Sprintf("declares user-scoped key %q as a stage write", key)}
			}
			available[key] = true
		}
	}

	return &Composer{
		name:   name,
		stages: stages,
		logger: logging.New().WithComponent("pipeline"),
	}, nil
}

// Name returns the pipeline name.
func (c *Composer) Name() string { return c.name }

// Run executes the pipeline. The returned Result is always terminal: either
// every stage succeeded, or it names the first failing stage and its cause.
func (c *Composer) Run(ctx context.Context, rt *Runtime) *Result {
	return c.run(ctx, rt, 0)
}

func (c *Composer) run(ctx context.Context, rt *Runtime, iteration int) *Result {
	ctx, span := startPipelineSpan(ctx, c.name, iteration)

	rt.emit(session.Event{Type: session.EventPipelineStart, Pipeline: c.name, Iteration: iteration})

	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return c.fail(rt, span, iteration, stage.Name(), CauseCancelled, err)
		}

		result := c.runStage(ctx, rt, stage, iteration)
		if result.Status != StatusOk {
			return c.fail(rt, span, iteration, stage.Name(), result.Cause, result.Err)
		}
	}

	ok := true
	rt.emit(session.Event{Type: session.EventPipelineEnd, Pipeline: c.name, Iteration: iteration, Success: &ok})
	endPipelineSpan(span, StatusOk, nil)

	return &Result{Status: StatusOk, State: rt.State.Snapshot()}
}

func (c *Composer) runStage(ctx context.Context, rt *Runtime, stage Stage, iteration int) StageResult {
	start := time.Now()
	rt.emit(session.Event{Type: session.EventStageStart, Pipeline: c.name, Stage: stage.Name(), Iteration: iteration})

	view := rt.State.Snapshot()
	sc := &Context{
		View:      view,
		User:      rt.userSnapshot(ctx),
		Iteration: iteration,
		Logger:    c.logger,
		rt:        rt,
		tool:      rt.toolContext(view, c.inLoop),
	}

	stageCtx := ctx
	if rt.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, rt.StageTimeout)
		defer cancel()
	}

	result := c.execute(stageCtx, stage, sc)

	// A stage that ran out of time reports whatever wrapped error it saw;
	// classify it uniformly.
	if result.Status == StatusError && errors.Is(result.Err, context.DeadlineExceeded) {
		result.Cause = CauseTimeout
	}

	if result.Status == StatusOk {
		// All-or-nothing commit of the stage's buffered writes.
		rt.State.Apply(sc.writes)
	}

	success := result.Status == StatusOk
	evt := session.Event{
		Type:       session.EventStageEnd,
		Pipeline:   c.name,
		Stage:      stage.Name(),
		Iteration:  iteration,
		Success:    &success,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if result.Err != nil {
		evt.Error = result.Err.Error()
	}
	rt.emit(evt)

	return result
}

// execute runs the stage body, guarding against one that ignores its
// deadline. A stage abandoned at its deadline keeps running in the
// background but its writes are discarded.
func (c *Composer) execute(ctx context.Context, stage Stage, sc *Context) StageResult {
	done := make(chan StageResult, 1)
	go func() {
		done <- stage.Run(ctx, sc)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return Fail(CauseTimeout, fmt.Errorf("stage %s: %w", stage.Name(), ctx.Err()))
	}
}

func (c *Composer) fail(rt *Runtime, span pipelineSpan, iteration int, stageName string, cause Cause, err error) *Result {
	c.logger.Warn("pipeline stopped", map[string]interface{}{
		"pipeline": c.name,
		"stage":    stageName,
		"cause":    string(cause),
	})

	notOk := false
	rt.emit(session.Event{
		Type:      session.EventPipelineEnd,
		Pipeline:  c.name,
		Iteration: iteration,
		Success:   &notOk,
		Error:     fmt.Sprintf("%s: %v", cause, err),
	})

	pipeErr := &PipelineError{Pipeline: c.name, FailingStage: stageName, Cause: cause, Err: err}
	endPipelineSpan(span, StatusError, pipeErr)

	return &Result{
		Status:       StatusError,
		FailingStage: stageName,
		Cause:        cause,
		Err:          pipeErr,
		State:        rt.State.Snapshot(),
	}
}
