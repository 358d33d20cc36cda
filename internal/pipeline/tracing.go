// Tracing instrumentation for pipeline runs.
package pipeline

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pipelineSpan = trace.Span

// startPipelineSpan starts a span for one pipeline run.
func startPipelineSpan(ctx context.Context, name string, iteration int) (context.Context, pipelineSpan) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "pipeline."+name)
	span.SetAttributes(attribute.String("pipeline.name", name))
	if iteration > 0 {
		span.SetAttributes(attribute.Int("pipeline.iteration", iteration))
	}
	return ctx, span
}

// endPipelineSpan ends the pipeline span with its terminal status.
func endPipelineSpan(span pipelineSpan, status Status, err error) {
	span.SetAttributes(attribute.String("pipeline.status", string(status)))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startLoopSpan starts a span covering a whole refinement loop.
func startLoopSpan(ctx context.Context, name string, budget int) (context.Context, pipelineSpan) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "loop."+name)
	span.SetAttributes(
		attribute.String("loop.name", name),
		attribute.Int("loop.budget", budget),
	)
	return ctx, span
}

// endLoopSpan ends the loop span with its terminal state.
func endLoopSpan(span pipelineSpan, terminal LoopState, iterations int) {
	span.SetAttributes(
		attribute.String("loop.terminal", string(terminal)),
		attribute.Int("loop.iterations", iterations),
	)
	span.End()
}
