package saga

import (
	"context"
	"fmt"

	"github.com/campushub/campushub-backend/pkg/logger"
	"go.uber.org/multierr"
)

// Step is one unit of a saga. Compensate undoes Action and may be nil for
// steps with no side effects worth undoing.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Result reports how far a saga got and what was rolled back.
type Result struct {
	Success bool
	Err     error

	// Executed lists steps whose Action ran, in execution order. The step
	// whose Action failed is included.
	Executed []string
	// Compensated lists steps whose Compensate ran, in rollback order.
	// Steps without a Compensate are skipped. A step whose compensation
	// failed is recorded as "<name> (compensate failed)".
	Compensated []string
}

// Executor runs saga steps in order and compensates executed steps in
// reverse when one fails.
type Executor struct {
	logg *logger.Logger
}

// NewExecutor builds an Executor. The logger may be nil.
func NewExecutor(logg *logger.Logger) *Executor {
	return &Executor{logg: logg}
}

// Run executes steps sequentially. On the first Action error it stops,
// compensates every previously executed step in reverse order, and returns
// a failed Result. Compensation is best effort: a failing Compensate is
// logged and recorded but does not stop the rollback of earlier steps.
func (e *Executor) Run(ctx context.Context, name string, steps []Step) Result {
	result := Result{}

	for i, step := range steps {
		if step.Action == nil {
			result.Err = fmt.Errorf("saga %s: step %q has no action", name, step.Name)
			e.compensate(ctx, name, steps[:i], &result)
			return result
		}

		result.Executed = append(result.Executed, step.Name)

		if err := step.Action(ctx); err != nil {
			result.Err = fmt.Errorf("saga %s: step %q: %w", name, step.Name, err)
			if e.logg != nil {
				e.logg.Error(ctx, fmt.Sprintf("saga %s failed at step %s", name, step.Name), err)
			}
			e.compensate(ctx, name, steps[:i], &result)
			return result
		}
	}

	result.Success = true
	return result
}

func (e *Executor) compensate(ctx context.Context, name string, executed []Step, result *Result) {
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			result.Compensated = append(result.Compensated, step.Name+" (compensate failed)")
			result.Err = multierr.Append(result.Err, fmt.Errorf("saga %s: compensate %q: %w", name, step.Name, err))
			if e.logg != nil {
				e.logg.Error(ctx, fmt.Sprintf("saga %s compensation failed for step %s", name, step.Name), err)
			}
			continue
		}
		result.Compensated = append(result.Compensated, step.Name)
	}
}
