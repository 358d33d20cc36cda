package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/vinayprograms/reviewd/internal/artifact"
	"github.com/vinayprograms/reviewd/internal/config"
	"github.com/vinayprograms/reviewd/internal/history"
	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/toolkit"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// scriptedWorker returns canned results per task kind.
type scriptedWorker struct {
	results  map[worker.TaskKind]*worker.Result
	errs     map[worker.TaskKind]error
	calls    map[worker.TaskKind]int
	payloads map[worker.TaskKind]worker.Payload
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{
		results:  make(map[worker.TaskKind]*worker.Result),
		errs:     make(map[worker.TaskKind]error),
		calls:    make(map[worker.TaskKind]int),
		payloads: make(map[worker.TaskKind]worker.Payload),
	}
}

func (w *scriptedWorker) Evaluate(ctx context.Context, kind worker.TaskKind, payload worker.Payload) (*worker.Result, error) {
	w.calls[kind]++
	w.payloads[kind] = payload
	if err := w.errs[kind]; err != nil {
		return nil, err
	}
	if result := w.results[kind]; result != nil {
		return result, nil
	}
	return nil, errors.New("no scripted result for " + string(kind))
}

type env struct {
	rt        *pipeline.Runtime
	artifacts *artifact.Store
	index     *history.Index
}

func newEnv(t *testing.T) *env {
	t.Helper()

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	index, err := history.NewMemIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	gw, err := toolkit.NewGateway(0,
		&toolkit.StoreArtifactTool{Store: artifacts},
		&toolkit.SearchHistoryTool{Index: index},
		&toolkit.RecordFeedbackTool{Index: index},
		&toolkit.RecordProgressTool{},
	)
	if err != nil {
		t.Fatal(err)
	}

	return &env{
		rt: &pipeline.Runtime{
			Session: session.New("dev1"),
			State:   state.NewSessionState(),
			Users:   state.NewInMemoryUserStore(),
			Gateway: gw,
		},
		artifacts: artifacts,
		index:     index,
	}
}

func runStage(t *testing.T, e *env, seeds []state.Key, stage pipeline.Stage) *pipeline.Result {
	t.Helper()
	comp, err := pipeline.NewComposer("test", seeds, stage)
	if err != nil {
		t.Fatalf("composition failed: %v", err)
	}
	return comp.Run(context.Background(), e.rt)
}

func TestAnalyzerRejectsEmptySubmission(t *testing.T) {
	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "   ")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode},
		&Analyzer{Worker: newScriptedWorker(), Cfg: config.Default()})

	if result.Status != pipeline.StatusError || result.Cause != pipeline.CauseValidation {
		t.Errorf("expected validation failure, got %s/%s", result.Status, result.Cause)
	}
}

func TestAnalyzerRejectsOversizedSubmission(t *testing.T) {
	cfg := config.Default()
	cfg.Grading.MaxCodeLength = 10

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "this is longer than ten characters")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode},
		&Analyzer{Worker: newScriptedWorker(), Cfg: cfg})

	if result.Cause != pipeline.CauseValidation {
		t.Errorf("expected validation failure, got %s", result.Cause)
	}
}

func TestAnalyzerRecordsAnalysis(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskAnalyze] = &worker.Result{
		Analysis: &worker.Analysis{
			Functions: []worker.FunctionInfo{{Name: "area", Line: 1}},
			Metrics:   worker.Metrics{FunctionCount: 1},
		},
	}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "def area(r):\n    return r * r")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode},
		&Analyzer{Worker: w, Cfg: config.Default()})

	if result.Status != pipeline.StatusOk {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if result.State.GetInt(state.KeyLineCount) != 2 {
		t.Errorf("expected 2 lines, got %d", result.State.GetInt(state.KeyLineCount))
	}
	if analysisFrom(result.State, state.KeyCodeAnalysis) == nil {
		t.Error("analysis should be committed")
	}
}

func TestAnalyzerSyntaxErrorIsNotAStageFailure(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskAnalyze] = &worker.Result{
		Analysis: &worker.Analysis{SyntaxError: "unexpected indent at line 3"},
	}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "def broken(:")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode},
		&Analyzer{Worker: w, Cfg: config.Default()})

	if result.Status != pipeline.StatusOk {
		t.Fatalf("a syntax error in the submission must not fail the stage: %v", result.Err)
	}
	if result.State.GetString(state.KeySyntaxError) == "" {
		t.Error("syntax error should be recorded in state")
	}
}

func TestStyleCapsStoredIssues(t *testing.T) {
	issues := make([]worker.StyleIssue, 15)
	for i := range issues {
		issues[i] = worker.StyleIssue{Line: i + 1, Code: "x", Message: "issue"}
	}
	w := newScriptedWorker()
	w.results[worker.TaskStyle] = &worker.Result{Score: 40, Issues: issues}

	cfg := config.Default() // MaxIssuesShown = 10
	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode}, &Style{Worker: w, Cfg: cfg})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}

	stored := issuesFrom(result.State, state.KeyStyleIssues)
	if len(stored) != 10 {
		t.Errorf("expected issues capped at 10, got %d", len(stored))
	}
	if result.State.GetInt(state.KeyStyleIssueCount) != 15 {
		t.Errorf("full count should be preserved, got %d", result.State.GetInt(state.KeyStyleIssueCount))
	}
}

func TestTestRunnerSkipsWhenNothingTestable(t *testing.T) {
	w := newScriptedWorker()
	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "x = 1")
	e.rt.State.Set(state.KeyCodeAnalysis, &worker.Analysis{})

	result := runStage(t, e, []state.Key{state.KeySubmittedCode, state.KeyCodeAnalysis},
		&TestRunner{Worker: w})

	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	tests := testsFrom(result.State, state.KeyTestResults)
	if tests == nil || tests.Total != 0 {
		t.Error("expected an empty test summary for untestable code")
	}
	if w.calls[worker.TaskGenerateTests] != 0 {
		t.Error("worker should not be consulted when there is nothing to test")
	}
}

func TestFeedbackGradesAndOffersFix(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskSynthesizeFeedback] = &worker.Result{Text: "Style needs work; two tests failing."}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleScore, 60)
	e.rt.State.Set(state.KeyStyleIssues, []worker.StyleIssue{{Line: 1, Message: "missing docstring"}})
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Passed: 16, Failed: 2, Total: 18, PassRate: 88.9})

	seeds := []state.Key{
		state.KeySubmittedCode, state.KeyStyleScore, state.KeyStyleIssues,
		state.KeyTestResults, state.KeySyntaxError,
	}
	result := runStage(t, e, seeds, &Feedback{Worker: w, Cfg: config.Default()})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}

	if !result.State.GetBool(state.KeyFixWorthy) {
		t.Error("failing tests must make the submission fix-worthy")
	}
	if result.State.GetString(state.KeyFinalFeedback) == "" {
		t.Error("final feedback should be committed")
	}
	if result.State.GetInt(state.KeyGradingAttempts) != 1 {
		t.Errorf("first submission should record attempt 1, got %d", result.State.GetInt(state.KeyGradingAttempts))
	}

	// The grading report artifact and the user's counters are persisted.
	if _, err := e.artifacts.Load("grading_report"); err != nil {
		t.Errorf("grading report should be stored: %v", err)
	}
	total, ok, err := e.rt.Users.Get(context.Background(), "dev1", state.UserTotalSubmissions)
	if err != nil || !ok {
		t.Fatalf("user counters should be updated: ok=%v err=%v", ok, err)
	}
	if total != 1 {
		t.Errorf("expected 1 total submission, got %v", total)
	}
	if n, _ := e.index.Count("dev1"); n != 1 {
		t.Errorf("feedback should be indexed, count=%d", n)
	}
}

func TestFeedbackCleanSubmissionNotFixWorthy(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskSynthesizeFeedback] = &worker.Result{Text: "Excellent."}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleScore, 95)
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Passed: 10, Total: 10, PassRate: 100})

	seeds := []state.Key{
		state.KeySubmittedCode, state.KeyStyleScore, state.KeyStyleIssues,
		state.KeyTestResults, state.KeySyntaxError,
	}
	result := runStage(t, e, seeds, &Feedback{Worker: w, Cfg: config.Default()})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	if result.State.GetBool(state.KeyFixWorthy) {
		t.Error("a clean submission must not be fix-worthy")
	}
}

func TestFeedbackSurfacesPastFeedback(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskSynthesizeFeedback] = &worker.Result{Text: "Better than last time."}

	e := newEnv(t)
	if err := e.index.Add(history.Record{Submitter: "dev1", Feedback: "docstring coverage is poor"}); err != nil {
		t.Fatal(err)
	}

	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleScore, 80)
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Passed: 5, Total: 5, PassRate: 100})

	seeds := []state.Key{
		state.KeySubmittedCode, state.KeyStyleScore, state.KeyStyleIssues,
		state.KeyTestResults, state.KeySyntaxError,
	}
	result := runStage(t, e, seeds, &Feedback{Worker: w, Cfg: config.Default()})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}

	past, _ := result.State.Get(state.KeyPastFeedback)
	if list, ok := past.([]string); !ok || len(list) != 1 {
		t.Errorf("past feedback should be surfaced, got %v", past)
	}
	patterns, _ := result.State.Get(state.KeyFeedbackPatterns)
	if list, ok := patterns.([]string); !ok || len(list) == 0 {
		t.Errorf("recurring patterns should be extracted, got %v", patterns)
	}
}

func TestWorkerErrorClassification(t *testing.T) {
	w := newScriptedWorker()
	w.errs[worker.TaskStyle] = errors.New("dial tcp: connection refused")

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")

	result := runStage(t, e, []state.Key{state.KeySubmittedCode},
		&Style{Worker: w, Cfg: config.Default()})

	if result.Cause != pipeline.CauseWorkerUnavailable {
		t.Errorf("expected worker_unavailable, got %s", result.Cause)
	}
}

func TestFixerRefinesPreviousAttempt(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskFix] = &worker.Result{Code: "fixed", Text: "added docstrings"}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleIssues, []worker.StyleIssue{{Line: 1, Message: "x"}})
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Failed: 1, Total: 2})
	e.rt.State.Set(state.KeyFixedCode, "previous attempt")

	result := runStage(t, e, (&Fixer{}).Reads(), &Fixer{Worker: w})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	if result.State.GetString(state.KeyFixedCode) != "fixed" {
		t.Error("fixed code should be committed")
	}
	if w.payloads[worker.TaskFix].FixedCode != "previous attempt" {
		t.Error("worker should see the previous iteration's attempt")
	}
}

func TestFixerRequiresCodeInResult(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskFix] = &worker.Result{Text: "sorry, no code"}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleIssues, []worker.StyleIssue{})
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{})

	result := runStage(t, e, (&Fixer{}).Reads(), &Fixer{Worker: w})
	if result.Cause != pipeline.CauseValidation {
		t.Errorf("expected validation failure, got %s", result.Cause)
	}
}

func TestAssessorConfirmedFixEndsLoop(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskAssessFix] = &worker.Result{
		Verdict:   worker.VerdictSuccessful,
		Confirmed: true,
		Text:      "all findings resolved",
	}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyFixedCode, "fixed")
	e.rt.State.Set(state.KeyStyleScore, 60)
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Failed: 2, Total: 4})
	e.rt.State.Set(state.KeyFixTestResults, &worker.TestSummary{Passed: 4, Total: 4})

	seeds := []state.Key{
		state.KeySubmittedCode, state.KeyFixedCode, state.KeyStyleScore,
		state.KeyTestResults, state.KeyFixTestResults,
	}
	body, err := pipeline.NewComposer("fix_loop", seeds, &Assessor{Worker: w})
	if err != nil {
		t.Fatal(err)
	}
	loop := pipeline.NewLoopController("fix_loop", body, 3, func(view state.View) pipeline.Verdict {
		return pipeline.Verdict(view.GetString(state.KeyFixStatus))
	})

	result := loop.Run(context.Background(), e.rt)
	if result.Terminal != pipeline.LoopSucceeded {
		t.Fatalf("confirmed fix should end the loop, got %s", result.Terminal)
	}
	if len(result.Iterations) != 1 {
		t.Errorf("expected a single iteration, got %d", len(result.Iterations))
	}
	if result.Reason != "all findings resolved" {
		t.Errorf("unexpected escalation reason %q", result.Reason)
	}
}

func TestFixReportRunsRegardlessOfOutcome(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskFixReport] = &worker.Result{Text: "Fix exhausted after 3 attempts; tests still failing."}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyFixStatus, string(pipeline.LoopExhaustedFailed))

	result := runStage(t, e, (&FixReport{}).Reads(), &FixReport{Worker: w})
	if result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	if result.State.GetString(state.KeyFixReport) == "" {
		t.Error("fix report should be committed")
	}
	if _, err := e.artifacts.Load("fix_report"); err != nil {
		t.Errorf("fix report artifact should be stored: %v", err)
	}
}

// Every value a fix stage hands to the worker must come from a declared read
// key. Each stage runs against state holding only its declared reads; an
// undeclared read would reach the worker empty and fail the assertions.
func TestFixStagePayloadsUseOnlyDeclaredReads(t *testing.T) {
	w := newScriptedWorker()
	w.results[worker.TaskFix] = &worker.Result{Code: "fixed"}
	w.results[worker.TaskFixReport] = &worker.Result{Text: "report"}

	e := newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyStyleIssues, []worker.StyleIssue{{Line: 3, Message: "y"}})
	e.rt.State.Set(state.KeyTestResults, &worker.TestSummary{Failed: 1, Total: 2})
	e.rt.State.Set(state.KeyFixedCode, "attempt one")

	if result := runStage(t, e, (&Fixer{}).Reads(), &Fixer{Worker: w}); result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	got := w.payloads[worker.TaskFix]
	if got.Code != "code" || got.FixedCode != "attempt one" || len(got.StyleIssues) != 1 || got.Tests == nil {
		t.Errorf("fixer payload incomplete from declared reads: %+v", got)
	}

	e = newEnv(t)
	e.rt.State.Set(state.KeySubmittedCode, "code")
	e.rt.State.Set(state.KeyFixStatus, string(pipeline.LoopSucceeded))
	e.rt.State.Set(state.KeyFixedCode, "fixed")
	e.rt.State.Set(state.KeyFixTestResults, &worker.TestSummary{Passed: 2, Total: 2})
	e.rt.State.Set(state.KeyFinalFeedback, "add docstrings")

	if result := runStage(t, e, (&FixReport{}).Reads(), &FixReport{Worker: w}); result.Status != pipeline.StatusOk {
		t.Fatal(result.Err)
	}
	got = w.payloads[worker.TaskFixReport]
	if got.Code != "code" || got.FixedCode != "fixed" || got.Feedback != "add docstrings" || got.FixTests == nil {
		t.Errorf("fixreport payload incomplete from declared reads: %+v", got)
	}
}
