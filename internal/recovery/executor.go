package recovery

import (
	"context"
	"fmt"
	"time"

	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// Executor runs validated plans against the environment driver under a
// hard deadline.
type Executor struct {
	driver  types.Driver
	timeout time.Duration
}

// NewExecutor creates an executor. timeout bounds one whole plan run.
func NewExecutor(driver types.Driver, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Executor{driver: driver, timeout: timeout}
}

// result carries a finished plan run out of its goroutine.
type result struct {
	emitted []string
	err     error
}

// Execute runs the plan and reports the tokens it emitted. The run is
// abandoned, not interrupted, when the deadline passes; the context
// handed to each step is cancelled so driver calls unwind on their own.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		emitted, err := e.run(runCtx, plan)
		done <- result{emitted: emitted, err: err}
	}()

	select {
	case r := <-done:
		return r.emitted, r.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("recovery: plan exceeded %v: %w", e.timeout, runCtx.Err())
	}
}

func (e *Executor) run(ctx context.Context, plan Plan) ([]string, error) {
	var emitted []string
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		logging.Recovery("plan step %d/%d: %s %s", i+1, len(plan.Steps), step.Verb, step.Arg)
		if err := e.apply(ctx, step, &emitted); err != nil {
			return emitted, fmt.Errorf("step %d (%s): %w", i+1, step.Verb, err)
		}
	}
	return emitted, nil
}

func (e *Executor) apply(ctx context.Context, step Step, emitted *[]string) error {
	switch step.Verb {
	case "navigate":
		return e.driver.Navigate(ctx, step.Arg)
	case "locate":
		els, err := e.driver.Locate(ctx, step.Arg)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return fmt.Errorf("no visible match for %q", step.Arg)
		}
		return nil
	case "click":
		els, err := e.driver.Locate(ctx, step.Arg)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return fmt.Errorf("nothing to click for %q", step.Arg)
		}
		return e.driver.Click(ctx, els[0])
	case "extract":
		els, err := e.driver.Locate(ctx, step.Arg)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return fmt.Errorf("nothing to extract for %q", step.Arg)
		}
		_, err = e.driver.Extract(ctx, els[0])
		return err
	case "scroll":
		return e.driver.Scroll(ctx, step.Pixels)
	case "wait":
		return e.driver.WaitFor(ctx, step.Arg, step.Timeout)
	case "emit":
		*emitted = append(*emitted, step.Arg)
		return nil
	default:
		// Unreachable after ParsePlan; kept so a future verb cannot
		// silently no-op.
		return fmt.Errorf("verb %q not executable", step.Verb)
	}
}

// Validated reports whether an emitted token stream counts as a
// successful repair: the success sentinel present and the failure
// sentinel absent.
func Validated(emitted []string) bool {
	ok := false
	for _, tok := range emitted {
		switch tok {
		case RepairOK:
			ok = true
		case RepairFailed:
			return false
		}
	}
	return ok
}
