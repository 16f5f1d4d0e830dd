package billing

import (
	"context"

	"github.com/gymowl/gymowl/pkg/observability"
)

// undoLog collects compensating writes for a change spread over several
// store calls. run replays them newest first.
type undoLog struct {
	logger *observability.Logger
	steps  []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func newUndoLog(logger *observability.Logger) *undoLog {
	return &undoLog{logger: logger}
}

func (u *undoLog) add(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// run undoes every recorded step. It ignores the caller's cancellation so a
// timed-out request still cleans up. Failed steps are logged and skipped.
func (u *undoLog) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			u.logger.WithError(err).WithField("step", step.name).Error("Failed to undo partial billing change")
		}
	}
	u.steps = nil
}
