package saga

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRunAllStepsSucceed(t *testing.T) {
	var order []string
	steps := []Step{
		{
			Name:       "reserve-seat",
			Action:     func(ctx context.Context) error { order = append(order, "reserve-seat"); return nil },
			Compensate: func(ctx context.Context) error { t.Fatal("compensate should not run"); return nil },
		},
		{
			Name:   "create-registration",
			Action: func(ctx context.Context) error { order = append(order, "create-registration"); return nil },
		},
	}

	result := NewExecutor(nil).Run(context.Background(), "register", steps)
	if !result.Success {
		t.Fatalf("expected success, got err %v", result.Err)
	}
	if !reflect.DeepEqual(result.Executed, []string{"reserve-seat", "create-registration"}) {
		t.Fatalf("unexpected executed steps %v", result.Executed)
	}
	if len(result.Compensated) != 0 {
		t.Fatalf("nothing should be compensated, got %v", result.Compensated)
	}
	if !reflect.DeepEqual(order, []string{"reserve-seat", "create-registration"}) {
		t.Fatalf("unexpected execution order %v", order)
	}
}

func TestRunCompensatesInReverseOrder(t *testing.T) {
	var rolledBack []string
	boom := errors.New("no seats left")
	steps := []Step{
		{
			Name:       "step-a",
			Action:     func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { rolledBack = append(rolledBack, "step-a"); return nil },
		},
		{
			Name:       "step-b",
			Action:     func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { rolledBack = append(rolledBack, "step-b"); return nil },
		},
		{
			Name:   "step-c",
			Action: func(ctx context.Context) error { return boom },
		},
	}

	result := NewExecutor(nil).Run(context.Background(), "register", steps)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !errors.Is(result.Err, boom) {
		t.Fatalf("expected cause in error chain, got %v", result.Err)
	}
	// the failing step still counts as executed
	if !reflect.DeepEqual(result.Executed, []string{"step-a", "step-b", "step-c"}) {
		t.Fatalf("unexpected executed list %v", result.Executed)
	}
	if !reflect.DeepEqual(rolledBack, []string{"step-b", "step-a"}) {
		t.Fatalf("expected reverse rollback order, got %v", rolledBack)
	}
	if !reflect.DeepEqual(result.Compensated, []string{"step-b", "step-a"}) {
		t.Fatalf("unexpected compensated list %v", result.Compensated)
	}
}

func TestRunCompensationFailureIsBestEffort(t *testing.T) {
	var rolledBack []string
	compBoom := errors.New("decrement failed")
	steps := []Step{
		{
			Name:       "step-a",
			Action:     func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { rolledBack = append(rolledBack, "step-a"); return nil },
		},
		{
			Name:       "step-b",
			Action:     func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return compBoom },
		},
		{
			Name:   "step-c",
			Action: func(ctx context.Context) error { return errors.New("boom") },
		},
	}

	result := NewExecutor(nil).Run(context.Background(), "register", steps)
	if result.Success {
		t.Fatalf("expected failure")
	}
	// step-b's failure must not stop step-a's rollback
	if !reflect.DeepEqual(rolledBack, []string{"step-a"}) {
		t.Fatalf("expected step-a rollback despite step-b failure, got %v", rolledBack)
	}
	if !reflect.DeepEqual(result.Compensated, []string{"step-b (compensate failed)", "step-a"}) {
		t.Fatalf("unexpected compensated list %v", result.Compensated)
	}
	if !errors.Is(result.Err, compBoom) {
		t.Fatalf("compensation error should be aggregated, got %v", result.Err)
	}
}

func TestRunStepWithoutCompensateIsSkipped(t *testing.T) {
	steps := []Step{
		{
			Name:   "no-op",
			Action: func(ctx context.Context) error { return nil },
		},
		{
			Name:   "fails",
			Action: func(ctx context.Context) error { return errors.New("boom") },
		},
	}

	result := NewExecutor(nil).Run(context.Background(), "register", steps)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !reflect.DeepEqual(result.Executed, []string{"no-op", "fails"}) {
		t.Fatalf("unexpected executed list %v", result.Executed)
	}
	if len(result.Compensated) != 0 {
		t.Fatalf("step without compensate must not be recorded, got %v", result.Compensated)
	}
}

func TestRunStepWithoutActionFails(t *testing.T) {
	result := NewExecutor(nil).Run(context.Background(), "register", []Step{{Name: "broken"}})
	if result.Success {
		t.Fatalf("expected failure for step without action")
	}
	if !strings.Contains(result.Err.Error(), "broken") {
		t.Fatalf("error should name the step, got %v", result.Err)
	}
}
