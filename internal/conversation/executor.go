package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

// ToolExecutor runs an already-approved tool call and returns its result as
// a string. Concrete tool implementations (shell commands, HTTP calls, and
// so on) are supplied by the embedding application; the Conversation
// Service only knows how to gate and bound their execution.
type ToolExecutor interface {
	Execute(ctx context.Context, call models.ToolCall) (string, error)
}

// BoundedExecutor wraps a ToolExecutor with a concurrency semaphore and a
// per-call timeout, so one slow or hung tool can't starve the rest of a
// turn or the process. Grounded on internal/agent/executor.go's Executor
// (semaphore-limited parallel tool execution with per-call timeout),
// narrowed to the single bounded-call operation the Conversation Service
// needs — approval has already happened by the time Execute is reached, so
// the retry/priority machinery layered on top of that semaphore elsewhere
// has no equivalent here.
type BoundedExecutor struct {
	inner   ToolExecutor
	sem     chan struct{}
	timeout time.Duration
}

// NewBoundedExecutor builds a BoundedExecutor. maxConcurrency<=0 defaults
// to 5; timeout<=0 defaults to 30s.
func NewBoundedExecutor(inner ToolExecutor, maxConcurrency int, timeout time.Duration) *BoundedExecutor {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BoundedExecutor{inner: inner, sem: make(chan struct{}, maxConcurrency), timeout: timeout}
}

// Execute blocks until a concurrency slot is available (or ctx is
// cancelled), then runs the call under its own timeout. A panic inside the
// underlying executor is recovered and surfaced as an error rather than
// crashing the turn.
func (e *BoundedExecutor) Execute(ctx context.Context, call models.ToolCall) (result string, err error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.sem }()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()

	return e.inner.Execute(callCtx, call)
}
