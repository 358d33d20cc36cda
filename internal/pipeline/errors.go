package pipeline

import "fmt"

// Status of a stage or pipeline result.
type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// Cause classifies why a stage failed. The set is closed; stages map their
// internal failures onto one of these.
type Cause string

const (
	CauseAnalysis          Cause = "analysis_failure"
	CauseValidation        Cause = "validation_failure"
	CauseTimeout           Cause = "timeout"
	CauseWorkerUnavailable Cause = "worker_unavailable"

	// CauseCancelled marks a run aborted by the caller's context. It is
	// pipeline-level only; stages never return it.
	CauseCancelled Cause = "cancelled"
)

// StageError is a failure inside one stage.
type StageError struct {
	Stage string
	Cause Cause
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Cause, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Err }

// PipelineError is a pipeline run that stopped on a failing stage.
type PipelineError struct {
	Pipeline     string
	FailingStage string
	Cause        Cause
	Err          error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s stopped at stage %s (%s): %v", e.Pipeline, e.FailingStage, e.Cause, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// CompositionError is a structurally invalid pipeline detected at build
// time, before any stage runs. It is always fatal.
type CompositionError struct {
	Pipeline string
	Stage    string
	Reason   string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("pipeline %s: stage %s: %s", e.Pipeline, e.Stage, e.Reason)
}
