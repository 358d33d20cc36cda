// Package toolkit is the single entry point for side effects during a
// pipeline run. Stages invoke tools through the Gateway; the gateway applies
// timeouts, logs the call in the session record, and handles the reserved
// exit signal. It never retries: retry policy belongs to the caller.
package toolkit

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
)

// SignalExit is the reserved tool name that requests loop termination. It is
// handled by the gateway itself and cannot be registered.
const SignalExit = "signal_exit"

// Tool performs one side-effecting operation.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args map[string]interface{}, tc *Context) (interface{}, error)
}

// Context carries the per-invocation environment a tool may touch. View is a
// read-only snapshot of session state; persistent writes go through Users or
// the collaborator stores.
type Context struct {
	Session   *session.Record
	Submitter string
	View      state.View
	Users     state.UserStore

	// OnExit is called when the reserved exit signal is raised. Set by the
	// pipeline per iteration; nil outside a loop.
	OnExit func(reason string)
}

// Gateway dispatches tool invocations.
type Gateway struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  *logging.Logger
}

// NewGateway creates a gateway with a per-invocation timeout (0 disables it).
// Registering a tool under the reserved exit name fails.
func NewGateway(timeout time.Duration, tools ...Tool) (*Gateway, error) {
	g := &Gateway{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logging.New().WithComponent("toolkit"),
	}
	for _, tool := range tools {
		if tool.Name() == SignalExit {
			return nil, fmt.Errorf("tool name %q is reserved", SignalExit)
		}
		if _, exists := g.tools[tool.Name()]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", tool.Name())
		}
		g.tools[tool.Name()] = tool
	}
	return g, nil
}

// Has reports whether a tool is registered.
func (g *Gateway) Has(name string) bool {
	_, ok := g.tools[name]
	return ok
}

// Invoke runs one tool call. Exactly one of result or error is meaningful;
// a failed invocation is never retried by the gateway.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]interface{}, tc *Context) (interface{}, error) {
	start := time.Now()
	g.logCall(tc, name, args)

	if name == SignalExit {
		result, err := g.signalExit(args, tc)
		g.logResult(tc, name, start, err)
		return result, err
	}

	tool, ok := g.tools[name]
	if !ok {
		err := fmt.Errorf("unknown tool %q", name)
		g.logResult(tc, name, start, err)
		return nil, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Execute(ctx, args, tc)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		g.logResult(tc, name, start, out.err)
		return out.result, out.err
	case <-ctx.Done():
		err := fmt.Errorf("tool %q: %w", name, ctx.Err())
		g.logResult(tc, name, start, err)
		return nil, err
	}
}

func (g *Gateway) signalExit(args map[string]interface{}, tc *Context) (interface{}, error) {
	reason, _ := args["reason"].(string)
	if tc.OnExit == nil {
		return nil, fmt.Errorf("%s raised outside a refinement loop", SignalExit)
	}
	tc.OnExit(reason)
	return map[string]interface{}{"status": "exit_requested", "reason": reason}, nil
}

func (g *Gateway) logCall(tc *Context, name string, args map[string]interface{}) {
	g.logger.Debug("tool call", map[string]interface{}{"tool": name})
	if tc != nil && tc.Session != nil {
		tc.Session.AddEvent(session.Event{
			Type: session.EventToolCall,
			Tool: name,
			Args: args,
		})
	}
}

func (g *Gateway) logResult(tc *Context, name string, start time.Time, err error) {
	success := err == nil
	evt := session.Event{
		Type:       session.EventToolResult,
		Tool:       name,
		Success:    &success,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		evt.Error = err.Error()
		g.logger.Warn("tool failed", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
	}
	if tc != nil && tc.Session != nil {
		tc.Session.AddEvent(evt)
	}
}
