package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// LLMWorker evaluates tasks with LLM providers. Evaluation tasks (analysis,
// style, tests, fixes) run on the worker provider; judgment tasks (feedback
// synthesis, fix assessment, reports) run on the critic provider when one is
// configured.
type LLMWorker struct {
	worker llm.Provider
	critic llm.Provider
	logger *logging.Logger
}

// NewLLMWorker creates a worker backed by the given providers. critic may be
// nil, in which case all tasks run on the worker provider.
func NewLLMWorker(worker, critic llm.Provider) *LLMWorker {
	if critic == nil {
		critic = worker
	}
	return &LLMWorker{
		worker: worker,
		critic: critic,
		logger: logging.New().WithComponent("worker"),
	}
}

// Evaluate builds a prompt for the task, runs it, and parses the structured
// response.
func (w *LLMWorker) Evaluate(ctx context.Context, kind TaskKind, payload Payload) (*Result, error) {
	prompt, err := buildPrompt(kind, payload)
	if err != nil {
		return nil, err
	}

	provider := w.providerFor(kind)
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("%s task failed: %w", kind, err)
	}

	result, err := parseResult(kind, resp.Content)
	if err != nil {
		w.logger.Warn("unparseable worker response", map[string]interface{}{
			"task":  string(kind),
			"error": err.Error(),
		})
		return nil, err
	}
	return result, nil
}

func (w *LLMWorker) providerFor(kind TaskKind) llm.Provider {
	switch kind {
	case TaskSynthesizeFeedback, TaskAssessFix, TaskFixReport:
		return w.critic
	default:
		return w.worker
	}
}

func buildPrompt(kind TaskKind, p Payload) (string, error) {
	var b strings.Builder

	switch kind {
	case TaskAnalyze:
		b.WriteString("Analyze the structure of the following code submission.\n")
		b.WriteString("Report every function (name, argument count, line, whether it has a docstring), ")
		b.WriteString("classes, imports, and overall metrics. If the code does not parse, set syntax_error.\n")
		b.WriteString("Respond with JSON only: {\"functions\":[{\"name\":\"\",\"args\":0,\"line\":0,\"has_docstring\":false}],")
		b.WriteString("\"classes\":[],\"imports\":[],\"metrics\":{\"line_count\":0,\"function_count\":0,\"class_count\":0,\"import_count\":0},\"syntax_error\":\"\"}\n\n")
		writeCodeBlock(&b, "Code", p.Code)

	case TaskStyle:
		b.WriteString("Check the following code for style problems: naming, docstrings, line length, dead code.\n")
		b.WriteString("Score it 0-100 where 100 is flawless. List each issue with line, short code, and message.\n")
		b.WriteString("Respond with JSON only: {\"score\":0,\"issues\":[{\"line\":0,\"code\":\"\",\"message\":\"\"}]}\n\n")
		writeCodeBlock(&b, "Code", p.Code)

	case TaskGenerateTests:
		b.WriteString("Write unit tests for the following code, mentally execute them, and report results.\n")
		b.WriteString("Respond with JSON only: {\"passed\":0,\"failed\":0,\"total\":0,\"failures\":[\"test name: reason\"]}\n\n")
		writeCodeBlock(&b, "Code", p.Code)
		if p.Analysis != nil && len(p.Analysis.Functions) > 0 {
			b.WriteString("\nFunctions under test:\n")
			for _, fn := range p.Analysis.Functions {
				fmt.Fprintf(&b, "- %s (line %d)\n", fn.Name, fn.Line)
			}
		}

	case TaskSynthesizeFeedback:
		b.WriteString("You are a constructive code reviewer. Write concise, actionable feedback for the submitter.\n")
		fmt.Fprintf(&b, "Style score: %d/100\n", p.StyleScore)
		if p.Tests != nil {
			fmt.Fprintf(&b, "Tests: %d/%d passing\n", p.Tests.Passed, p.Tests.Total)
		}
		if len(p.StyleIssues) > 0 {
			b.WriteString("Style issues:\n")
			for _, issue := range p.StyleIssues {
				fmt.Fprintf(&b, "- line %d: %s\n", issue.Line, issue.Message)
			}
		}
		if len(p.PastFeedback) > 0 {
			b.WriteString("Previous feedback given to this submitter:\n")
			for _, fb := range p.PastFeedback {
				fmt.Fprintf(&b, "- %s\n", fb)
			}
			b.WriteString("Acknowledge improvement on past issues and flag anything recurring.\n")
		}
		b.WriteString("Respond with the feedback text only.\n")

	case TaskFix:
		fmt.Fprintf(&b, "Fix the problems in the following code (attempt %d).\n", p.Attempt)
		b.WriteString("Preserve behavior, address the listed issues and test failures.\n")
		b.WriteString("Respond with JSON only: {\"code\":\"<complete fixed source>\",\"notes\":\"<what changed>\"}\n\n")
		writeCodeBlock(&b, "Original code", p.Code)
		if p.FixedCode != "" {
			writeCodeBlock(&b, "Previous fix attempt", p.FixedCode)
		}
		if len(p.StyleIssues) > 0 {
			b.WriteString("\nStyle issues to resolve:\n")
			for _, issue := range p.StyleIssues {
				fmt.Fprintf(&b, "- line %d [%s]: %s\n", issue.Line, issue.Code, issue.Message)
			}
		}
		if p.Tests != nil && len(p.Tests.Failures) > 0 {
			b.WriteString("\nFailing tests:\n")
			for _, failure := range p.Tests.Failures {
				fmt.Fprintf(&b, "- %s\n", failure)
			}
		}

	case TaskValidateFix:
		b.WriteString("Re-run the test suite against the fixed code below and report results.\n")
		b.WriteString("Respond with JSON only: {\"passed\":0,\"failed\":0,\"total\":0,\"failures\":[]}\n\n")
		writeCodeBlock(&b, "Fixed code", p.FixedCode)
		if p.Tests != nil && len(p.Tests.Failures) > 0 {
			b.WriteString("\nOriginal failures to re-check:\n")
			for _, failure := range p.Tests.Failures {
				fmt.Fprintf(&b, "- %s\n", failure)
			}
		}

	case TaskAssessFix:
		b.WriteString("Judge whether the fix below fully resolves the review findings.\n")
		fmt.Fprintf(&b, "Original style score: %d/100\n", p.StyleScore)
		if p.Tests != nil {
			fmt.Fprintf(&b, "Original tests: %d/%d passing\n", p.Tests.Passed, p.Tests.Total)
		}
		if p.FixTests != nil {
			fmt.Fprintf(&b, "Tests after fix: %d/%d passing\n", p.FixTests.Passed, p.FixTests.Total)
		}
		b.WriteString("Verdict is \"successful\" only when all tests pass and the findings are addressed; ")
		b.WriteString("\"partial\" when some progress was made; \"failed\" otherwise. ")
		b.WriteString("Set confirmed true only for a successful, complete fix.\n")
		b.WriteString("Respond with JSON only: {\"verdict\":\"successful|partial|failed\",\"confirmed\":false,\"reason\":\"\"}\n\n")
		writeCodeBlock(&b, "Fixed code", p.FixedCode)

	case TaskFixReport:
		b.WriteString("Write a short report summarizing a fix attempt: what was wrong, what changed, ")
		b.WriteString("and what (if anything) remains unresolved.\n")
		if p.Feedback != "" {
			fmt.Fprintf(&b, "Review feedback:\n%s\n\n", p.Feedback)
		}
		if p.FixTests != nil {
			fmt.Fprintf(&b, "Tests after fix: %d/%d passing\n", p.FixTests.Passed, p.FixTests.Total)
		}
		writeCodeBlock(&b, "Original code", p.Code)
		if p.FixedCode != "" {
			writeCodeBlock(&b, "Final code", p.FixedCode)
		}
		b.WriteString("Respond with the report text only.\n")

	default:
		return "", fmt.Errorf("unknown task kind %q", kind)
	}

	return b.String(), nil
}

func writeCodeBlock(b *strings.Builder, label, code string) {
	fmt.Fprintf(b, "%s:\n```\n%s\n```\n", label, code)
}

func parseResult(kind TaskKind, content string) (*Result, error) {
	switch kind {
	case TaskAnalyze:
		var analysis Analysis
		if err := decodeJSON(content, &analysis); err != nil {
			return nil, fmt.Errorf("invalid analysis response: %w", err)
		}
		return &Result{Analysis: &analysis}, nil

	case TaskStyle:
		var envelope struct {
			Score  int          `json:"score"`
			Issues []StyleIssue `json:"issues"`
		}
		if err := decodeJSON(content, &envelope); err != nil {
			return nil, fmt.Errorf("invalid style response: %w", err)
		}
		if envelope.Score < 0 || envelope.Score > 100 {
			return nil, fmt.Errorf("style score %d out of range", envelope.Score)
		}
		return &Result{Score: envelope.Score, Issues: envelope.Issues}, nil

	case TaskGenerateTests, TaskValidateFix:
		var summary TestSummary
		if err := decodeJSON(content, &summary); err != nil {
			return nil, fmt.Errorf("invalid test response: %w", err)
		}
		if summary.Total == 0 {
			summary.Total = summary.Passed + summary.Failed
		}
		if summary.Total > 0 {
			summary.PassRate = float64(summary.Passed) / float64(summary.Total) * 100
		}
		return &Result{Tests: &summary}, nil

	case TaskFix:
		var envelope struct {
			Code  string `json:"code"`
			Notes string `json:"notes"`
		}
		if err := decodeJSON(content, &envelope); err != nil {
			return nil, fmt.Errorf("invalid fix response: %w", err)
		}
		return &Result{Code: envelope.Code, Text: envelope.Notes}, nil

	case TaskAssessFix:
		var envelope struct {
			Verdict   string `json:"verdict"`
			Confirmed bool   `json:"confirmed"`
			Reason    string `json:"reason"`
		}
		if err := decodeJSON(content, &envelope); err != nil {
			return nil, fmt.Errorf("invalid assessment response: %w", err)
		}
		switch envelope.Verdict {
		case VerdictSuccessful, VerdictPartial, VerdictFailed:
		default:
			return nil, fmt.Errorf("unknown verdict %q", envelope.Verdict)
		}
		return &Result{Verdict: envelope.Verdict, Confirmed: envelope.Confirmed, Text: envelope.Reason}, nil

	case TaskSynthesizeFeedback, TaskFixReport:
		text := strings.TrimSpace(content)
		if text == "" {
			return nil, fmt.Errorf("empty %s response", kind)
		}
		return &Result{Text: text}, nil

	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}

// decodeJSON extracts the JSON object from a model response that may wrap it
// in a code fence or surrounding prose.
func decodeJSON(content string, v interface{}) error {
	raw := content
	if idx := strings.Index(raw, "```json"); idx >= 0 {
		raw = raw[idx+len("```json"):]
		if end := strings.Index(raw, "```"); end >= 0 {
			raw = raw[:end]
		}
	} else {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object in response")
		}
		raw = raw[start : end+1]
	}
	return json.Unmarshal([]byte(strings.TrimSpace(raw)), v)
}
