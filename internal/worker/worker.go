// Package worker defines the analysis capability the pipeline delegates to.
// Stages never talk to a model provider directly; they hand a task kind and
// a payload to a Worker and interpret the structured result.
package worker

import (
	"context"
)

// TaskKind names one kind of evaluation a worker can perform.
type TaskKind string

const (
	TaskAnalyze            TaskKind = "analyze"
	TaskStyle              TaskKind = "style"
	TaskGenerateTests      TaskKind = "generate_tests"
	TaskSynthesizeFeedback TaskKind = "synthesize_feedback"
	TaskFix                TaskKind = "fix"
	TaskValidateFix        TaskKind = "validate_fix"
	TaskAssessFix          TaskKind = "assess_fix"
	TaskFixReport          TaskKind = "fix_report"
)

// Verdict values an assessment task may return.
const (
	VerdictSuccessful = "successful"
	VerdictPartial    = "partial"
	VerdictFailed     = "failed"
)

// FunctionInfo describes one function found in submitted code.
type FunctionInfo struct {
	Name         string `json:"name"`
	Args         int    `json:"args"`
	Line         int    `json:"line"`
	HasDocstring bool   `json:"has_docstring"`
}

// Metrics summarizes the shape of a submission.
type Metrics struct {
	LineCount     int `json:"line_count"`
	FunctionCount int `json:"function_count"`
	ClassCount    int `json:"class_count"`
	ImportCount   int `json:"import_count"`
}

// Analysis is the structural breakdown of a submission.
type Analysis struct {
	Functions   []FunctionInfo `json:"functions"`
	Classes     []string       `json:"classes"`
	Imports     []string       `json:"imports"`
	Metrics     Metrics        `json:"metrics"`
	SyntaxError string         `json:"syntax_error,omitempty"`
}

// StyleIssue is one style finding with its location.
type StyleIssue struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TestSummary reports test execution results.
type TestSummary struct {
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Total    int      `json:"total"`
	PassRate float64  `json:"pass_rate"`
	Failures []string `json:"failures,omitempty"`
}

// Payload carries the inputs a task needs. Only the fields relevant to the
// task kind are populated.
type Payload struct {
	Code         string
	FixedCode    string
	Analysis     *Analysis
	StyleScore   int
	StyleIssues  []StyleIssue
	Tests        *TestSummary
	FixTests     *TestSummary
	PastFeedback []string
	Feedback     string
	Attempt      int
}

// Result is the structured outcome of one task. Fields are populated per
// task kind: analysis tasks fill Analysis, style tasks Score and Issues,
// test tasks Tests, generative tasks Code or Text, assessments Verdict.
type Result struct {
	Analysis  *Analysis
	Score     int
	Issues    []StyleIssue
	Tests     *TestSummary
	Code      string
	Text      string
	Verdict   string
	Confirmed bool
}

// Worker evaluates tasks. Implementations must honor ctx cancellation and
// return an error only for infrastructure failures; domain-level findings
// (low scores, failing tests) belong in the Result.
type Worker interface {
	Evaluate(ctx context.Context, kind TaskKind, payload Payload) (*Result, error)
}
