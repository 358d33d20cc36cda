// Package router owns the top-level review conversation: it accepts
// submissions, decides which pipeline handles each request, and is the only
// component that switches a session between phases. Concurrent requests for
// different sessions proceed independently; requests for the same session
// are serialized.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/config"
	"github.com/vinayprograms/reviewd/internal/events"
	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/stages"
	"github.com/vinayprograms/reviewd/internal/toolkit"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// Submission is one code review request.
type Submission struct {
	Submitter string
	SessionID string // empty starts a new session
	Code      string
}

// ReviewOutcome is the terminal result of a review pass. It is returned for
// failed pipelines too; Result carries the failing stage and cause.
type ReviewOutcome struct {
	SessionID  string
	Result     *pipeline.Result
	Feedback   string
	StyleScore int
	FixWorthy  bool
	State      state.View
}

// FixOutcome is the terminal result of a fix pass.
type FixOutcome struct {
	SessionID  string
	Result     *pipeline.Result
	Terminal   pipeline.LoopState
	Iterations []pipeline.IterationOutcome
	Report     string
	FixedCode  string
	State      state.View
}

// Router routes submissions into the review pipeline and accepted fix
// offers into the fix pipeline.
type Router struct {
	cfg      *config.Config
	sessions *session.Manager
	users    state.UserStore
	gateway  *toolkit.Gateway
	worker   worker.Worker
	sink     events.Sink
	logger   *logging.Logger

	review *pipeline.Composer

	mu   sync.Mutex
	runs map[string]*sessionRun
}

// sessionRun is the in-process state for one session: its key/value store
// and a lock serializing review and fix passes.
type sessionRun struct {
	mu    sync.Mutex
	state *state.SessionState
}

// New builds a router. Pipeline composition is validated here, so a
// structurally broken pipeline is rejected before any submission is
// accepted.
func New(cfg *config.Config, sessions *session.Manager, users state.UserStore, gateway *toolkit.Gateway, wkr worker.Worker, sink events.Sink) (*Router, error) {
	r := &Router{
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		gateway:  gateway,
		worker:   wkr,
		sink:     sink,
		logger:   logging.New().WithComponent("router"),
		runs:     make(map[string]*sessionRun),
	}

	review, err := r.buildReview()
	if err != nil {
		return nil, err
	}
	r.review = review

	// Validate the fix pipeline too; it is rebuilt per run because the
	// loop stage tracks its last result.
	if _, _, err := r.buildFix(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Router) buildReview() (*pipeline.Composer, error) {
	return pipeline.NewComposer("review",
		[]state.Key{state.KeySubmittedCode},
		&stages.Analyzer{Worker: r.worker, Cfg: r.cfg},
		&stages.Style{Worker: r.worker, Cfg: r.cfg},
		&stages.TestRunner{Worker: r.worker},
		&stages.Feedback{Worker: r.worker, Cfg: r.cfg},
	)
}

func (r *Router) buildFix() (*pipeline.Composer, *pipeline.LoopStage, error) {
	reviewKeys := []state.Key{
		state.KeySubmittedCode,
		state.KeyStyleScore,
		state.KeyStyleIssues,
		state.KeyTestResults,
		state.KeyFinalFeedback,
	}

	// KeyFixedCode is loop-carried: iteration N reads iteration N-1's
	// attempt, so for composition it counts as seeded into the body.
	bodySeeds := append(append([]state.Key{}, reviewKeys...), state.KeyFixedCode)

	body, err := pipeline.NewComposer("fix_attempt", bodySeeds,
		&stages.Fixer{Worker: r.worker},
		&stages.FixTester{Worker: r.worker},
		&stages.Assessor{Worker: r.worker},
	)
	if err != nil {
		return nil, nil, err
	}

	loop := pipeline.NewLoopController("fix_loop", body, r.cfg.Fix.MaxIterations, verdictFromState)
	loopStage := pipeline.NewLoopStage(loop,
		[]state.Key{state.KeySubmittedCode, state.KeyStyleIssues, state.KeyTestResults},
		state.KeyFixStatus, state.KeyFixAttempts)

	outer, err := pipeline.NewComposer("fix", reviewKeys,
		loopStage,
		&stages.FixReport{Worker: r.worker},
	)
	if err != nil {
		return nil, nil, err
	}
	return outer, loopStage, nil
}

// verdictFromState grades an iteration by the assessor's declared verdict.
// An iteration that never reached the assessor has no verdict and counts as
// failed.
func verdictFromState(view state.View) pipeline.Verdict {
	switch view.GetString(state.KeyFixStatus) {
	case worker.VerdictSuccessful:
		return pipeline.VerdictSuccessful
	case worker.VerdictPartial:
		return pipeline.VerdictPartial
	default:
		return pipeline.VerdictFailed
	}
}

// Submit runs a review pass. A new submission on an existing session resets
// its session-scoped state and starts fresh; the submitter's persistent
// state is untouched.
func (r *Router) Submit(ctx context.Context, sub Submission) (*ReviewOutcome, error) {
	if sub.Submitter == "" {
		return nil, fmt.Errorf("submission has no submitter")
	}

	rec, run, err := r.acquire(sub.Submitter, sub.SessionID)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	if rec.CurrentPhase() != session.PhaseIdle {
		return nil, fmt.Errorf("session %s is busy (%s)", rec.ID, rec.CurrentPhase())
	}
	rec.SetPhase(session.PhaseReview)
	defer r.settle(rec)

	run.state.Reset()
	run.state.Set(state.KeySubmittedCode, sub.Code)

	rt := r.runtime(rec, run)
	r.emit(rec, session.Event{Type: session.EventSubmission, Content: fmt.Sprintf("%d bytes", len(sub.Code))})

	result := r.review.Run(ctx, rt)

	view := result.State
	outcome := &ReviewOutcome{
		SessionID:  rec.ID,
		Result:     result,
		Feedback:   view.GetString(state.KeyFinalFeedback),
		StyleScore: view.GetInt(state.KeyStyleScore),
		FixWorthy:  view.GetBool(state.KeyFixWorthy),
		State:      view,
	}

	if outcome.FixWorthy {
		r.emit(rec, session.Event{Type: session.EventFixOffer, Content: "review found fixable findings"})
		r.logger.Info("fix offered", map[string]interface{}{
			"session":   rec.ID,
			"submitter": sub.Submitter,
		})
	}

	return outcome, nil
}

// RunFix runs a fix pass for a session whose last review offered one. The
// review state stays in place: the fix pipeline reads the review's findings.
func (r *Router) RunFix(ctx context.Context, sessionID string) (*FixOutcome, error) {
	rec, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("unknown session %s: %w", sessionID, err)
	}
	run := r.runFor(rec.ID)

	run.mu.Lock()
	defer run.mu.Unlock()

	if rec.CurrentPhase() != session.PhaseIdle {
		return nil, fmt.Errorf("session %s is busy (%s)", rec.ID, rec.CurrentPhase())
	}
	if !run.state.Snapshot().GetBool(state.KeyFixWorthy) {
		return nil, fmt.Errorf("session %s has no pending fix offer", rec.ID)
	}

	fix, loopStage, err := r.buildFix()
	if err != nil {
		// Composition was validated at construction; reaching this means
		// the config changed under us.
		return nil, err
	}

	rec.SetPhase(session.PhaseFix)
	defer r.settle(rec)

	rt := r.runtime(rec, run)
	result := fix.Run(ctx, rt)

	view := result.State
	outcome := &FixOutcome{
		SessionID: rec.ID,
		Result:    result,
		Report:    view.GetString(state.KeyFixReport),
		FixedCode: view.GetString(state.KeyFixedCode),
		State:     view,
	}
	if loopResult := loopStage.LastResult(); loopResult != nil {
		outcome.Terminal = loopResult.Terminal
		outcome.Iterations = loopResult.Iterations
	}

	// The offer is spent regardless of how the loop ended.
	run.state.Set(state.KeyFixWorthy, false)

	return outcome, nil
}

// SessionState returns a snapshot of a session's current state.
func (r *Router) SessionState(sessionID string) (state.View, error) {
	if _, err := r.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return r.runFor(sessionID).state.Snapshot(), nil
}

func (r *Router) acquire(submitter, sessionID string) (*session.Record, *sessionRun, error) {
	if sessionID == "" {
		rec, err := r.sessions.Create(submitter)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create session: %w", err)
		}
		return rec, r.runFor(rec.ID), nil
	}

	rec, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("unknown session %s: %w", sessionID, err)
	}
	if rec.Submitter != submitter {
		return nil, nil, fmt.Errorf("session %s belongs to %s", sessionID, rec.Submitter)
	}
	return rec, r.runFor(rec.ID), nil
}

func (r *Router) runFor(sessionID string) *sessionRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[sessionID]
	if !ok {
		run = &sessionRun{state: state.NewSessionState()}
		r.runs[sessionID] = run
	}
	return run
}

func (r *Router) runtime(rec *session.Record, run *sessionRun) *pipeline.Runtime {
	return &pipeline.Runtime{
		Session:      rec,
		State:        run.state,
		Users:        r.users,
		Gateway:      r.gateway,
		Sink:         r.sink,
		StageTimeout: r.cfg.StageTimeout(),
	}
}

func (r *Router) emit(rec *session.Record, evt session.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.SeqID = rec.AddEvent(evt)
	if r.sink != nil {
		r.sink.Publish(rec.ID, evt)
	}
}

// settle returns the session to idle and persists it.
func (r *Router) settle(rec *session.Record) {
	rec.SetPhase(session.PhaseIdle)
	if err := r.sessions.Update(rec); err != nil {
		r.logger.Warn("failed to persist session", map[string]interface{}{
			"session": rec.ID,
			"error":   err.Error(),
		})
	}
}
