// Package state provides the tiered key/value store that pipeline stages
// read and write. Keys form a closed set per scope; the pipeline package
// checks stage declarations against these sets at composition time.
package state

// Key identifies one named state entry.
type Key string

// Session-scoped keys. These live for one review conversation and are reset
// when a new submission starts a fresh review pass.
const (
	KeySubmittedCode    Key = "submitted_code"
	KeyLineCount        Key = "line_count"
	KeyCodeAnalysis     Key = "code_analysis"
	KeySyntaxError      Key = "syntax_error"
	KeyStyleScore       Key = "style_score"
	KeyStyleIssues      Key = "style_issues"
	KeyStyleIssueCount  Key = "style_issue_count"
	KeyTestResults      Key = "test_results"
	KeyPastFeedback     Key = "past_feedback"
	KeyFeedbackPatterns Key = "feedback_patterns"
	KeyGradingAttempts  Key = "grading_attempts"
	KeyLastGradingTime  Key = "last_grading_time"
	KeyScoreImprovement Key = "score_improvement"
	KeyFinalFeedback    Key = "final_feedback"
	KeyFixWorthy        Key = "fix_worthy"
	KeyCodeFixes        Key = "code_fixes"
	KeyFixedCode        Key = "fixed_code"
	KeyFixTestResults   Key = "fix_test_results"
	KeyFixAttempts      Key = "fix_attempts"
	KeyFixStatus        Key = "fix_status"
	KeyFixReport        Key = "fix_report"
)

// User-scoped keys. These persist across all of a submitter's sessions.
const (
	UserTotalSubmissions   Key = "total_submissions"
	UserLastStyleScore     Key = "last_style_score"
	UserLastSubmissionTime Key = "last_submission_time"
	UserLastTestPassRate   Key = "last_test_pass_rate"
	UserFeedbackHistory    Key = "feedback_history" // append-only
	UserLastReport         Key = "last_report"
)

var sessionKeys = map[Key]bool{
	KeySubmittedCode:    true,
	KeyLineCount:        true,
	KeyCodeAnalysis:     true,
	KeySyntaxError:      true,
	KeyStyleScore:       true,
	KeyStyleIssues:      true,
	KeyStyleIssueCount:  true,
	KeyTestResults:      true,
	KeyPastFeedback:     true,
	KeyFeedbackPatterns: true,
	KeyGradingAttempts:  true,
	KeyLastGradingTime:  true,
	KeyScoreImprovement: true,
	KeyFinalFeedback:    true,
	KeyFixWorthy:        true,
	KeyCodeFixes:        true,
	KeyFixedCode:        true,
	KeyFixTestResults:   true,
	KeyFixAttempts:      true,
	KeyFixStatus:        true,
	KeyFixReport:        true,
}

var userKeys = map[Key]bool{
	UserTotalSubmissions:   true,
	UserLastStyleScore:     true,
	UserLastSubmissionTime: true,
	UserLastTestPassRate:   true,
	UserFeedbackHistory:    true,
	UserLastReport:         true,
}

// SessionScoped reports whether k belongs to the session scope.
func (k Key) SessionScoped() bool { return sessionKeys[k] }

// UserScoped reports whether k belongs to the user scope.
func (k Key) UserScoped() bool { return userKeys[k] }

// Known reports whether k belongs to either scope.
func (k Key) Known() bool { return sessionKeys[k] || userKeys[k] }

// SessionKeys returns the closed set of session-scoped keys.
func SessionKeys() []Key {
	keys := make([]Key, 0, len(sessionKeys))
	for k := range sessionKeys {
		keys = append(keys, k)
	}
	return keys
}
