package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoStack records compensations for completed external calls so a failed
// operation can be rolled back in reverse order.
type undoStack struct {
	steps []undoStep
}

func (u *undoStack) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// unwind runs every compensation, newest first, and returns cause joined
// with any compensation failures. Compensations run even if ctx is done.
func (u *undoStack) unwind(ctx context.Context, logger *zap.SugaredLogger, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			logger.Errorw("Compensation failed", "step", step.name, "cause", cause, "error", err)
			errs = append(errs, fmt.Errorf("undo %s: %w", step.name, err))
		}
	}
	u.steps = nil
	return errors.Join(errs...)
}
