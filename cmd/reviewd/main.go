// Package main is the entry point for the reviewd CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/reviewd/internal/report"
	"github.com/vinayprograms/reviewd/internal/router"
	"github.com/vinayprograms/reviewd/internal/tui"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for API keys and endpoint overrides.
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("reviewd"),
		kong.Description("Automated code review and fix pipeline"),
		kong.UsageOnError(),
		kongVars(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Run submits the file for review, rendering the outcome (and the fix
// outcome, when requested and offered) to stdout.
func (c *ReviewCmd) Run() error {
	code, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading submission: %w", err)
	}

	rt, err := newRuntime(c.Config, c.Offline, c.TUI)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	sub := router.Submission{
		Submitter: c.Submitter,
		SessionID: c.Session,
		Code:      string(code),
	}

	ctx := context.Background()
	review, fix, err := c.execute(ctx, rt, sub)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "session: %s\n\n", review.SessionID)
	fmt.Println(report.Review(review))
	if fix != nil {
		fmt.Println(report.Fix(fix))
	}
	return nil
}

// execute runs the review (and fix) pass, behind the live TUI when enabled.
func (c *ReviewCmd) execute(ctx context.Context, rt *runtime, sub router.Submission) (*router.ReviewOutcome, *router.FixOutcome, error) {
	if !c.TUI {
		return rt.runReview(ctx, sub, c.Fix)
	}

	type reviewDone struct {
		review *router.ReviewOutcome
		fix    *router.FixOutcome
		err    error
	}
	done := make(chan reviewDone, 1)
	go func() {
		review, fix, err := rt.runReview(ctx, sub, c.Fix)
		done <- reviewDone{review, fix, err}
		rt.stream.Close()
	}()

	if err := tui.Run(rt.stream.Events()); err != nil {
		return nil, nil, fmt.Errorf("progress display: %w", err)
	}
	res := <-done
	return res.review, res.fix, res.err
}

// Run prints past feedback records for a submitter, newest last.
func (c *HistoryCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	index, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	records, err := index.Search(c.Submitter, c.Query, c.Limit)
	if err != nil {
		return fmt.Errorf("searching history: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("no feedback on record for %s\n", c.Submitter)
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  style=%.0f  tests=%.0f%%\n",
			rec.CreatedAt.Format("2006-01-02 15:04"), rec.StyleScore, rec.PassRate)
		fmt.Println(wordwrap.String(rec.Feedback, 80))
		fmt.Println()
	}
	return nil
}

// Run prints build information.
func (c *VersionCmd) Run() error {
	fmt.Printf("reviewd version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
