package recovery

import (
	"context"
	"time"

	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// Ledger is the slice of the action recorder the agent needs.
type Ledger interface {
	RecordError(stage, message string, screenshot []byte)
	RecordRecovery(signature, classification string, planAttempted, repaired, fallbackTaken bool)
}

// Agent is the self-healing layer between the supervisor and the
// environment. DiagnoseAndFix is its whole surface.
type Agent struct {
	driver       types.Driver
	reasoner     types.Reasoner
	ledger       Ledger
	executor     *Executor
	maxPlanSteps int
}

// NewAgent wires the recovery agent. reasoner may be nil; synthesis is
// then skipped and only the reset fallback runs.
func NewAgent(driver types.Driver, reasoner types.Reasoner, ledger Ledger, planTimeout time.Duration, maxPlanSteps int) *Agent {
	return &Agent{
		driver:       driver,
		reasoner:     reasoner,
		ledger:       ledger,
		executor:     NewExecutor(driver, planTimeout),
		maxPlanSteps: maxPlanSteps,
	}
}

// DiagnoseAndFix attempts to repair the environment after cause was
// raised. It returns true only when a repair plan ran and validated, or
// the reset fallback completed cleanly. It never raises: every internal
// failure degrades to the next option and ultimately to false.
func (a *Agent) DiagnoseAndFix(ctx context.Context, cause error) bool {
	if cause == nil {
		return true
	}
	signature := cause.Error()
	class := Classify(cause)
	logging.Recovery("diagnosing %q (%s)", truncate(signature, 200), class)

	state := a.snapshot(ctx, signature)

	if class == ClassFatal {
		a.record(signature, class, false, false, false)
		return false
	}

	planAttempted := false
	if class == ClassRecoverableUnknown && a.reasoner != nil {
		planAttempted = true
		if a.tryPlan(ctx, state, signature) {
			a.record(signature, class, true, true, false)
			logging.Recovery("repair plan validated")
			return true
		}
		logging.RecoveryWarn("repair plan did not validate, falling back to reset")
	}

	fallbackOK := a.driver.Reset(ctx) == nil
	a.record(signature, class, planAttempted, false, true)
	if fallbackOK {
		logging.Recovery("reset fallback completed")
	} else {
		logging.RecoveryError("reset fallback failed")
	}
	return fallbackOK
}

// snapshot captures diagnostic state and files it in the ledger. A
// failed capture still yields a usable (mostly empty) state.
func (a *Agent) snapshot(ctx context.Context, signature string) types.EnvironmentState {
	state, err := a.driver.CaptureState(ctx)
	if err != nil {
		logging.RecoveryWarn("state capture failed: %v", err)
	}
	if a.ledger != nil {
		a.ledger.RecordError("recovery", signature, state.Screenshot)
	}
	return state
}

// tryPlan runs the full synthesis path: ask, validate, execute, check
// sentinels. Any failure along the way reads as false.
func (a *Agent) tryPlan(ctx context.Context, state types.EnvironmentState, signature string) bool {
	text, err := a.reasoner.SynthesizeRepair(ctx, state, signature)
	if err != nil {
		logging.RecoveryWarn("synthesis failed: %v", err)
		return false
	}
	plan, err := ParsePlan(text, a.maxPlanSteps)
	if err != nil {
		logging.RecoveryWarn("plan rejected: %v", err)
		return false
	}
	emitted, err := a.executor.Execute(ctx, plan)
	if err != nil {
		logging.RecoveryWarn("plan execution failed: %v", err)
		return false
	}
	return Validated(emitted)
}

func (a *Agent) record(signature string, class Class, planAttempted, repaired, fallbackTaken bool) {
	if a.ledger == nil {
		return
	}
	a.ledger.RecordRecovery(truncate(signature, 500), class.String(), planAttempted, repaired, fallbackTaken)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
