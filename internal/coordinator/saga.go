package coordinator

import (
	"context"
	"fmt"
	"log/slog"
)

// Step represents a single unit of work in a reservation run.
// Each step must have a compensating action to undo its effects.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator runs steps in order and, on the first failure, compensates
// every step that already succeeded in reverse order: reserve all, commit
// all, or roll back all.
type Orchestrator struct {
	id    string
	steps []Step
}

// NewOrchestrator builds an orchestrator. id is only used for logging,
// typically the order id.
func NewOrchestrator(id string, steps []Step) *Orchestrator {
	return &Orchestrator{id: id, steps: steps}
}

// Start executes the steps sequentially. The returned error is the failing
// step's error, unchanged, so callers can classify it with errors.Is.
func (o *Orchestrator) Start(ctx context.Context) error {
	var done []Step

	for _, step := range o.steps {
		slog.DebugContext(ctx, "executing step", "run_id", o.id, "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			slog.WarnContext(ctx, "step failed, rolling back",
				"run_id", o.id,
				"step", step.Name(),
				"completed", len(done),
				"error", err,
			)
			if rbErr := o.rollback(ctx, done); rbErr != nil {
				return fmt.Errorf("%w (rollback incomplete: %v)", err, rbErr)
			}
			return err
		}
		done = append(done, step)
	}

	return nil
}

// rollback compensates in LIFO order. It keeps going after a failed
// compensation so one bad step doesn't strand the rest, and reports the
// first failure.
func (o *Orchestrator) rollback(ctx context.Context, steps []Step) error {
	// Compensation must run even if the request that triggered it is gone.
	ctx = context.WithoutCancel(ctx)

	var first error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: failed to compensate step",
				"run_id", o.id,
				"step", step.Name(),
				"error", err,
			)
			if first == nil {
				first = fmt.Errorf("compensate %s: %w", step.Name(), err)
			}
		}
	}
	return first
}
