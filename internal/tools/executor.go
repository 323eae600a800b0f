package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
)

// Executor dispatches tool calls to registered tools. It never raises: every
// failure mode (unknown tool, disabled family, bad arguments, backend error,
// timeout, panic) is converted to an OK=false result the model can read.
type Executor struct {
	reg         *Registry
	caps        capability.Set
	concurrency int
	timeout     time.Duration
	maxRunes    int
}

// NewExecutor builds an executor over reg restricted to caps. concurrency
// bounds parallel calls within one batch; timeout bounds each backend call;
// maxRunes caps each result payload (0 = no cap).
func NewExecutor(reg *Registry, caps capability.Set, concurrency int, timeout time.Duration, maxRunes int) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Executor{reg: reg, caps: caps, concurrency: concurrency, timeout: timeout, maxRunes: maxRunes}
}

// Descriptors returns the enabled catalog, ordered by family then name.
func (e *Executor) Descriptors() []core.ToolDescriptor {
	return e.reg.List(e.caps)
}

// Invoke runs one tool call.
func (e *Executor) Invoke(ctx context.Context, call core.ToolCall) core.ToolResult {
	res := core.ToolResult{ID: call.ID, Name: call.Name}

	t, ok := e.reg.Lookup(call.Name)
	if !ok || !e.caps.Has(t.Descriptor().Family) {
		res.Content = fmt.Sprintf("unsupported tool %q: not available in this configuration", call.Name)
		return res
	}

	if err := ValidateArgs(t.Descriptor().Parameters, call.Arguments); err != nil {
		res.Content = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return res
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := e.safeExecute(callCtx, t, call)
	if err != nil {
		log.Printf("[DISPATCH] %s failed after %s: %v", call.Name, time.Since(start).Round(time.Millisecond), err)
		if errors.Is(err, context.DeadlineExceeded) {
			res.Content = fmt.Sprintf("%s timed out after %s", call.Name, e.timeout)
		} else {
			res.Content = fmt.Sprintf("%s failed: %v", call.Name, err)
		}
		return res
	}

	res.OK = true
	res.Content = Truncate(out, e.maxRunes)
	return res
}

// InvokeBatch dispatches the calls of one round with bounded parallelism and
// returns exactly one result per call, in request order regardless of
// completion order. onDone fires in completion order.
func (e *Executor) InvokeBatch(ctx context.Context, calls []core.ToolCall, onStart func(core.ToolCall), onDone func(core.ToolResult)) []core.ToolResult {
	results := make([]core.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			if onStart != nil {
				onStart(call)
			}
			res := e.Invoke(ctx, call)
			results[i] = res
			if onDone != nil {
				onDone(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// safeExecute isolates the backend call so a panicking handler becomes an
// error result instead of taking the process down.
func (e *Executor) safeExecute(ctx context.Context, t Tool, call core.ToolCall) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v", r)
		}
	}()
	return t.Execute(ctx, call.Arguments)
}
