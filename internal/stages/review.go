// Package stages implements the review and fix pipeline stages. Each stage
// declares the session keys it reads and writes, delegates judgment to a
// worker, and reports failures as classified stage results.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/reviewd/internal/config"
	"github.com/vinayprograms/reviewd/internal/history"
	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// Analyzer breaks the submission down structurally. A submission the worker
// cannot parse is not a stage failure: the syntax error is recorded and the
// review continues so the submitter still gets style feedback.
type Analyzer struct {
	Worker worker.Worker
	Cfg    *config.Config
}

func (s *Analyzer) Name() string { return "analyzer" }

func (s *Analyzer) Reads() []state.Key { return []state.Key{state.KeySubmittedCode} }

func (s *Analyzer) Writes() []state.Key {
	return []state.Key{state.KeyLineCount, state.KeyCodeAnalysis, state.KeySyntaxError}
}

func (s *Analyzer) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	code := sc.View.GetString(state.KeySubmittedCode)
	if strings.TrimSpace(code) == "" {
		return pipeline.Fail(pipeline.CauseValidation, fmt.Errorf("empty submission"))
	}
	if max := s.Cfg.Grading.MaxCodeLength; max > 0 && len(code) > max {
		return pipeline.Fail(pipeline.CauseValidation,
			fmt.Errorf("submission is %d characters, limit is %d", len(code), max))
	}

	result, err := s.Worker.Evaluate(ctx, worker.TaskAnalyze, worker.Payload{Code: code})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	if result.Analysis == nil {
		return pipeline.Fail(pipeline.CauseAnalysis, fmt.Errorf("worker returned no analysis"))
	}

	sc.Put(state.KeyLineCount, strings.Count(code, "\n")+1)
	sc.Put(state.KeyCodeAnalysis, result.Analysis)
	sc.Put(state.KeySyntaxError, result.Analysis.SyntaxError)
	return pipeline.Ok()
}

// Style scores the submission 0-100 and records individual findings.
type Style struct {
	Worker worker.Worker
	Cfg    *config.Config
}

func (s *Style) Name() string { return "style" }

func (s *Style) Reads() []state.Key { return []state.Key{state.KeySubmittedCode} }

func (s *Style) Writes() []state.Key {
	return []state.Key{state.KeyStyleScore, state.KeyStyleIssues, state.KeyStyleIssueCount}
}

func (s *Style) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	code := sc.View.GetString(state.KeySubmittedCode)

	result, err := s.Worker.Evaluate(ctx, worker.TaskStyle, worker.Payload{Code: code})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}

	issues := result.Issues
	if max := s.Cfg.Grading.MaxIssuesShown; max > 0 && len(issues) > max {
		issues = issues[:max]
	}

	sc.Put(state.KeyStyleScore, result.Score)
	sc.Put(state.KeyStyleIssues, issues)
	sc.Put(state.KeyStyleIssueCount, len(result.Issues))
	return pipeline.Ok()
}

// TestRunner exercises the submission and records a test summary. A
// submission with nothing testable records an empty summary rather than
// failing.
type TestRunner struct {
	Worker worker.Worker
}

func (s *TestRunner) Name() string { return "testrunner" }

func (s *TestRunner) Reads() []state.Key {
	return []state.Key{state.KeySubmittedCode, state.KeyCodeAnalysis}
}

func (s *TestRunner) Writes() []state.Key { return []state.Key{state.KeyTestResults} }

func (s *TestRunner) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	code := sc.View.GetString(state.KeySubmittedCode)
	analysis := analysisFrom(sc.View, state.KeyCodeAnalysis)

	if analysis != nil && len(analysis.Functions) == 0 {
		sc.Put(state.KeyTestResults, &worker.TestSummary{})
		return pipeline.Ok()
	}

	result, err := s.Worker.Evaluate(ctx, worker.TaskGenerateTests, worker.Payload{
		Code:     code,
		Analysis: analysis,
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	if result.Tests == nil {
		return pipeline.Fail(pipeline.CauseAnalysis, fmt.Errorf("worker returned no test summary"))
	}

	sc.Put(state.KeyTestResults, result.Tests)
	return pipeline.Ok()
}

// Feedback closes the review pipeline: it pulls the submitter's history,
// updates their running counters, synthesizes the final feedback text,
// grades the submission against the configured weights, and decides whether
// to offer a fix pass.
type Feedback struct {
	Worker worker.Worker
	Cfg    *config.Config
}

func (s *Feedback) Name() string { return "feedback" }

func (s *Feedback) Reads() []state.Key {
	return []state.Key{
		state.KeyStyleScore,
		state.KeyStyleIssues,
		state.KeyTestResults,
		state.KeySyntaxError,
	}
}

func (s *Feedback) Writes() []state.Key {
	return []state.Key{
		state.KeyPastFeedback,
		state.KeyFeedbackPatterns,
		state.KeyGradingAttempts,
		state.KeyLastGradingTime,
		state.KeyScoreImprovement,
		state.KeyFinalFeedback,
		state.KeyFixWorthy,
	}
}

func (s *Feedback) Run(ctx context.Context, sc *pipeline.Context) pipeline.StageResult {
	styleScore := sc.View.GetInt(state.KeyStyleScore)
	issues := issuesFrom(sc.View, state.KeyStyleIssues)
	tests := testsFrom(sc.View, state.KeyTestResults)

	past := s.lookupPastFeedback(ctx, sc)
	sc.Put(state.KeyPastFeedback, past)
	sc.Put(state.KeyFeedbackPatterns, extractPatterns(past))

	s.recordProgress(ctx, sc, styleScore, tests)

	result, err := s.Worker.Evaluate(ctx, worker.TaskSynthesizeFeedback, worker.Payload{
		StyleScore:   styleScore,
		StyleIssues:  issues,
		Tests:        tests,
		PastFeedback: past,
	})
	if err != nil {
		return pipeline.Fail(workerCause(err), err)
	}
	feedback := result.Text
	sc.Put(state.KeyFinalFeedback, feedback)

	grade := s.compositeGrade(sc.View, styleScore, tests)
	fixWorthy := grade < s.Cfg.Grading.PassingThreshold || (tests != nil && tests.Failed > 0)
	sc.Put(state.KeyFixWorthy, fixWorthy)

	// Persist the feedback for future reviews and save the grading report.
	// Both are best-effort: a review that cannot be archived is still a
	// review.
	passRate := 0.0
	if tests != nil {
		passRate = tests.PassRate
	}
	if _, err := sc.Invoke(ctx, "record_feedback", map[string]interface{}{
		"feedback":    feedback,
		"style_score": float64(styleScore),
		"pass_rate":   passRate,
	}); err != nil {
		sc.Logger.Warn("failed to record feedback", map[string]interface{}{"error": err.Error()})
	}

	report := map[string]interface{}{
		"submitter":   sc.Submitter(),
		"style_score": styleScore,
		"grade":       grade,
		"fix_worthy":  fixWorthy,
		"feedback":    feedback,
		"graded_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if tests != nil {
		report["tests_passed"] = tests.Passed
		report["tests_total"] = tests.Total
	}
	if content, err := json.MarshalIndent(report, "", "  "); err == nil {
		if _, err := sc.Invoke(ctx, "store_artifact", map[string]interface{}{
			"name":    "grading_report",
			"content": string(content),
		}); err != nil {
			sc.Logger.Warn("failed to store grading report", map[string]interface{}{"error": err.Error()})
		}
	}

	return pipeline.Ok()
}

func (s *Feedback) lookupPastFeedback(ctx context.Context, sc *pipeline.Context) []string {
	result, err := sc.Invoke(ctx, "search_history", map[string]interface{}{"limit": 5})
	if err != nil {
		sc.Logger.Warn("history lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	records, ok := result.([]history.Record)
	if !ok {
		return nil
	}
	var past []string
	for _, rec := range records {
		past = append(past, rec.Feedback)
	}
	return past
}

func (s *Feedback) recordProgress(ctx context.Context, sc *pipeline.Context, styleScore int, tests *worker.TestSummary) {
	passRate := 0.0
	if tests != nil {
		passRate = tests.PassRate
	}
	result, err := sc.Invoke(ctx, "record_progress", map[string]interface{}{
		"style_score": float64(styleScore),
		"pass_rate":   passRate,
	})
	if err != nil {
		sc.Logger.Warn("failed to record progress", map[string]interface{}{"error": err.Error()})
		return
	}

	progress, ok := result.(map[string]interface{})
	if !ok {
		return
	}
	if total, ok := progress["total_submissions"].(int); ok {
		sc.Put(state.KeyGradingAttempts, total)
	}
	if at, ok := progress["recorded_at"].(string); ok {
		sc.Put(state.KeyLastGradingTime, at)
	}
	if improvement, ok := progress["improvement"].(float64); ok {
		sc.Put(state.KeyScoreImprovement, improvement)
	}
}

// compositeGrade combines style, tests, and structural health into [0,1]
// using the configured weights.
func (s *Feedback) compositeGrade(view state.View, styleScore int, tests *worker.TestSummary) float64 {
	styleComponent := float64(styleScore) / 100

	testComponent := 1.0
	if tests != nil && tests.Total > 0 {
		testComponent = tests.PassRate / 100
	}

	structureComponent := 1.0
	if view.GetString(state.KeySyntaxError) != "" {
		structureComponent = 0
	}

	g := s.Cfg.Grading
	return g.StyleWeight*styleComponent + g.TestWeight*testComponent + g.StructureWeight*structureComponent
}

// extractPatterns condenses past feedback into recurring themes.
func extractPatterns(past []string) []string {
	var patterns []string
	themes := map[string]string{
		"docstring": "documentation has come up before",
		"naming":    "naming has come up before",
		"test":      "test coverage has come up before",
		"improved":  "earlier feedback noted improvement",
	}
	seen := make(map[string]bool)
	for _, fb := range past {
		lower := strings.ToLower(fb)
		for marker, pattern := range themes {
			if strings.Contains(lower, marker) && !seen[pattern] {
				seen[pattern] = true
				patterns = append(patterns, pattern)
			}
		}
	}
	return patterns
}
