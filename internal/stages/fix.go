package stages

import (
	"context"
	"fmt"

	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/toolkit"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// Fixer rewrites the submission to address the review findings. On later
// iterations it refines its own previous attempt.
type Fixer struct {
	Worker worker.Worker
}

func (s *Fixer) Name() string { return "fixer" }

func (s *Fixer) Reads() []state.Key {
	// KeyFixedCode is loop-carried: absent on the first iteration, the
	// previous attempt afterwards.
	return []state.Key{
		state.KeySubmittedCode,
		state.KeyStyleIssues,
		state.KeyTestResults,
		state.KeyFixedCode,
	}
}

func (s *Fixer) Writes() []state.Key {
	return []state.Key{state.KeyCodeFixes, state.KeyFixedCode}
}

func (s *Fixer) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	result, err := s.Worker.Evaluate(ctx, worker.TaskFix, worker.Payload{
		Code:        sc.View.GetString(state.KeySubmittedCode),
		FixedCode:   sc.View.GetString(state.KeyFixedCode),
		StyleIssues: issuesFrom(sc.View, state.KeyStyleIssues),
		Tests:       testsFrom(sc.View, state.KeyTestResults),
		Attempt:     sc.Iteration,
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	if result.Code == "" {
		return pipeline.Fail(pipeline.CauseValidation, fmt.Errorf("worker returned no fixed code"))
	}

	sc.Put(state.KeyFixedCode, result.Code)
	sc.Put(state.KeyCodeFixes, result.Text)
	return pipeline.Ok()
}

// FixTester re-runs the tests against the fixed code.
type FixTester struct {
	Worker worker.Worker
}

func (s *FixTester) Name() string { return "fixtester" }

func (s *FixTester) Reads() []state.Key {
	return []state.Key{state.KeyFixedCode, state.KeyTestResults}
}

func (s *FixTester) Writes() []state.Key { return []state.Key{state.KeyFixTestResults} }

func (s *FixTester) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	result, err := s.Worker.Evaluate(ctx, worker.TaskValidateFix, worker.Payload{
		FixedCode: sc.View.GetString(state.KeyFixedCode),
		Tests:     testsFrom(sc.View, state.KeyTestResults),
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	if result.Tests == nil {
		return pipeline.Fail(pipeline.CauseValidation, fmt.Errorf("worker returned no test summary"))
	}

	sc.Put(state.KeyFixTestResults, result.Tests)
	return pipeline.Ok()
}

// Assessor grades the iteration and raises the exit signal when the fix is
// confirmed complete. Its verdict is the loop controller's input for
// deciding partial versus failed exhaustion.
type Assessor struct {
	Worker worker.Worker
}

func (s *Assessor) Name() string { return "assessor" }

func (s *Assessor) Reads() []state.Key {
	return []state.Key{
		state.KeyFixedCode,
		state.KeyFixTestResults,
		state.KeyStyleScore,
		state.KeyTestResults,
	}
}

func (s *Assessor) Writes() []state.Key { return []state.Key{state.KeyFixStatus} }

func (s *Assessor) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	result, err := s.Worker.Evaluate(ctx, worker.TaskAssessFix, worker.Payload{
		FixedCode:  sc.View.GetString(state.KeyFixedCode),
		StyleScore: sc.View.GetInt(state.KeyStyleScore),
		Tests:      testsFrom(sc.View, state.KeyTestResults),
		FixTests:   testsFrom(sc.View, state.KeyFixTestResults),
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}

	sc.Put(state.KeyFixStatus, result.Verdict)

	if result.Confirmed {
		reason := result.Text
		if reason == "" {
			reason = "fix confirmed complete"
		}
		if _, err := sc.Invoke(ctx, toolkit.SignalExit, map[string]interface{}{"reason": reason}); err != nil {
			return pipeline.Fail(pipeline.CauseValidation, err)
		}
	}
	return pipeline.Ok()
}

// FixReport is the closing stage of the fix pipeline. It runs whatever the
// loop's terminal state was, so the submitter always gets an account of
// what happened.
type FixReport struct {
	Worker worker.Worker
}

func (s *FixReport) Name() string { return "fixreport" }

func (s *FixReport) Reads() []state.Key {
	return []state.Key{
		state.KeySubmittedCode,
		state.KeyFixStatus,
		state.KeyFixedCode,
		state.KeyFixTestResults,
		state.KeyFinalFeedback,
	}
}

func (s *FixReport) Writes() []state.Key { return []state.Key{state.KeyFixReport} }

func (s *FixReport) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	result, err := s.Worker.Evaluate(ctx, worker.TaskFixReport, worker.Payload{
		Code:      sc.View.GetString(state.KeySubmittedCode),
		FixedCode: sc.View.GetString(state.KeyFixedCode),
		Feedback:  sc.View.GetString(state.KeyFinalFeedback),
		FixTests:  testsFrom(sc.View, state.KeyFixTestResults),
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	if result.Text == "" {
		return pipeline.Fail(pipeline.CauseValidation, fmt.Errorf("worker returned an empty report"))
	}

	sc.Put(state.KeyFixReport, result.Text)

	if _, err := sc.Invoke(ctx, "store_artifact", map[string]interface{}{
		"name":    "fix_report",
		"content": result.Text,
	}); err != nil {
		sc.Logger.Warn("failed to store fix report", map[string]interface{}{"error": err.Error()})
	}
	return pipeline.Ok()
}
