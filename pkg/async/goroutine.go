package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gymowl/gymowl/pkg/observability"
)

// run executes fn under timeout. Errors and panics are logged, never
// propagated.
func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task", taskName).
				WithField("panic", fmt.Sprint(r)).
				WithField("stack", string(debug.Stack())).
				Error("PANIC in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithField("task", taskName).WithError(err).Warn("Background task failed")
	}
}

// Group runs background tasks with panic recovery and a per-task timeout,
// and lets the owner wait for them during shutdown. Tasks are detached from the caller's cancellation so a
// finished HTTP request does not abort its follow-up work.
type Group struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewGroup creates a Group whose tasks each run under timeout
func NewGroup(logger *observability.Logger, timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Group{logger: logger, timeout: timeout}
}

// Go starts fn in the background. It returns false once the group is closed.
func (g *Group) Go(ctx context.Context, taskName string, fn func(context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		run(context.WithoutCancel(ctx), g.logger, g.timeout, taskName, fn)
	}()
	return true
}

// Wait closes the group to new tasks and blocks until running ones finish
// or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
