package stages

import (
	"context"
	"errors"

	"github.com/vinayprograms/reviewd/internal/pipeline"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// workerCause classifies a worker error. Deadline overruns are timeouts;
// everything else means the worker could not serve the request.
func workerCause(err error) pipeline.Cause {
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.CauseTimeout
	}
	return pipeline.CauseWorkerUnavailable
}

func analysisFrom(view state.View, key state.Key) *worker.Analysis {
	if v, ok := view.Get(key); ok {
		if analysis, ok := v.(*worker.Analysis); ok {
			return analysis
		}
	}
	return nil
}

func issuesFrom(view state.View, key state.Key) []worker.StyleIssue {
	if v, ok := view.Get(key); ok {
		if issues, ok := v.([]worker.StyleIssue); ok {
			return issues
		}
	}
	return nil
}

func testsFrom(view state.View, key state.Key) *worker.TestSummary {
	if v, ok := view.Get(key); ok {
		if tests, ok := v.(*worker.TestSummary); ok {
			return tests
		}
	}
	return nil
}
