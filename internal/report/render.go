// Package report renders review and fix outcomes for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/router"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/worker"
)

const wrapWidth = 80

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	issueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("─", 60))
)

// Review renders a review outcome.
func Review(outcome *router.ReviewOutcome) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Code Review"))
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")

	if outcome.Result.Status != pipeline.StatusOk {
		b.WriteString(badStyle.Render(fmt.Sprintf("Review failed at %s: %s",
			outcome.Result.FailingStage, outcome.Result.Cause)))
		b.WriteString("\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Style:"), scoreStyle(outcome.StyleScore).Render(fmt.Sprintf("%d/100", outcome.StyleScore)))

	if tests := testsFrom(outcome.State); tests != nil && tests.Total > 0 {
		style := goodStyle
		if tests.Failed > 0 {
			style = badStyle
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Tests:"), style.Render(fmt.Sprintf("%d/%d passing", tests.Passed, tests.Total)))
	}

	if issues := issuesFrom(outcome.State); len(issues) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Findings"))
		b.WriteString("\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "  %s %s\n",
				issueStyle.Render(fmt.Sprintf("L%d", issue.Line)),
				issue.Message)
		}
	}

	if outcome.Feedback != "" {
		b.WriteString("\n")
		b.WriteString(wordwrap.String(outcome.Feedback, wrapWidth))
		b.WriteString("\n")
	}

	if outcome.FixWorthy {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("An automated fix is available for this submission."))
		b.WriteString("\n")
	}

	return b.String()
}

// Fix renders a fix outcome.
func Fix(outcome *router.FixOutcome) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Fix Attempt"))
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %s after %d iteration(s)\n",
		labelStyle.Render("Outcome:"),
		terminalStyle(outcome.Terminal).Render(terminalLabel(outcome.Terminal)),
		len(outcome.Iterations))

	for _, iter := range outcome.Iterations {
		marker := goodStyle.Render("ok")
		if iter.Verdict == pipeline.VerdictFailed {
			marker = badStyle.Render("failed")
		} else if iter.Verdict == pipeline.VerdictPartial {
			marker = warnStyle.Render("partial")
		}
		fmt.Fprintf(&b, "  %s %s", labelStyle.Render(fmt.Sprintf("attempt %d:", iter.Index)), marker)
		if iter.Reason != "" {
			fmt.Fprintf(&b, " %s", labelStyle.Render(iter.Reason))
		}
		b.WriteString("\n")
	}

	if outcome.Report != "" {
		b.WriteString("\n")
		b.WriteString(wordwrap.String(outcome.Report, wrapWidth))
		b.WriteString("\n")
	}

	return b.String()
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return goodStyle
	case score >= 60:
		return warnStyle
	default:
		return badStyle
	}
}

func terminalStyle(terminal pipeline.LoopState) lipgloss.Style {
	switch terminal {
	case pipeline.LoopSucceeded:
		return goodStyle
	case pipeline.LoopExhaustedPartial:
		return warnStyle
	default:
		return badStyle
	}
}

func terminalLabel(terminal pipeline.LoopState) string {
	switch terminal {
	case pipeline.LoopSucceeded:
		return "fixed"
	case pipeline.LoopExhaustedPartial:
		return "partially fixed"
	case pipeline.LoopExhaustedFailed:
		return "not fixed"
	default:
		return string(terminal)
	}
}

func testsFrom(view state.View) *worker.TestSummary {
	if v, ok := view.Get(state.KeyTestResults); ok {
		if tests, ok := v.(*worker.TestSummary); ok {
			return tests
		}
	}
	return nil
}

func issuesFrom(view state.View) []worker.StyleIssue {
	if v, ok := view.Get(state.KeyStyleIssues); ok {
		if issues, ok := v.([]worker.StyleIssue); ok {
			return issues
		}
	}
	return nil
}
