// Package supervisor owns the outer session loop: run cycles until the
// time budget runs out, absorb every recoverable error through the
// recovery agent, and fire the production pipeline when enough
// high-quality material has accumulated. The loop has no retry
// ceiling; only an operator interrupt, a fatal error, or budget
// exhaustion ends it.
package supervisor

import (
	"context"
	"math/rand"
	"time"

	"nightshift/internal/config"
	"nightshift/internal/logging"
	"nightshift/internal/recovery"
	"nightshift/internal/types"
)

// CycleRunner runs one interaction cycle.
type CycleRunner interface {
	Run(ctx context.Context) error
}

// Healer resolves a raised error to repaired-or-not.
type Healer interface {
	DiagnoseAndFix(ctx context.Context, cause error) bool
}

// MaterialStore is the slice of the knowledge store the trigger reads
// and consumes.
type MaterialStore interface {
	HighQualityUnusedCount() int
	MarkManyUsed(k int) ([]string, error)
}

// BatchLedger records which entries a draft consumed.
type BatchLedger interface {
	RecordConsumedBatch(draftID string, entryIDs []string)
}

// Session is the per-run bookkeeping the loop mutates. Single-threaded
// by construction; no locking.
type Session struct {
	StartedAt        time.Time
	TimeBudget       time.Duration
	LastCreationTime time.Time

	// ConsecutiveFailureCount is observability only; nothing branches
	// on it.
	ConsecutiveFailureCount int

	CyclesRun      int
	DraftsProduced int
}

// Expired reports whether the budget is spent.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.StartedAt) >= s.TimeBudget
}

// Supervisor wires the loop's collaborators.
type Supervisor struct {
	cycle    CycleRunner
	healer   Healer
	store    MaterialStore
	pipeline types.Pipeline
	driver   types.Driver
	ledger   BatchLedger
	cfg      config.SessionConfig

	threshold int
	cooldown  time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration)
	rng   *rand.Rand

	Session Session
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithSleeper substitutes the rest sleep.
func WithSleeper(sleep func(context.Context, time.Duration)) Option {
	return func(s *Supervisor) { s.sleep = sleep }
}

// WithRand substitutes the jitter source.
func WithRand(rng *rand.Rand) Option {
	return func(s *Supervisor) { s.rng = rng }
}

// New builds a supervisor. budget and cooldown come pre-parsed from
// the session config.
func New(cycle CycleRunner, healer Healer, store MaterialStore, pipeline types.Pipeline, driver types.Driver, ledger BatchLedger, cfg config.SessionConfig, budget, cooldown time.Duration, opts ...Option) *Supervisor {
	s := &Supervisor{
		cycle:     cycle,
		healer:    healer,
		store:     store,
		pipeline:  pipeline,
		driver:    driver,
		ledger:    ledger,
		cfg:       cfg,
		threshold: cfg.CreationThreshold,
		cooldown:  cooldown,
		now:       time.Now,
		sleep:     sleepCtx,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Session = Session{
		StartedAt:  s.now(),
		TimeBudget: budget,
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// shouldCreate is the trigger predicate, re-evaluated once per
// iteration after a successful cycle.
func (s *Supervisor) shouldCreate(now time.Time) bool {
	if s.store.HighQualityUnusedCount() < s.threshold {
		return false
	}
	return s.Session.LastCreationTime.IsZero() || now.Sub(s.Session.LastCreationTime) > s.cooldown
}

// Run executes the session until interrupt, fatal error, or budget
// exhaustion. The returned error is always nil today; the signature
// leaves room for setup failures surfacing from future collaborators.
func (s *Supervisor) Run(ctx context.Context) error {
	logging.Supervisor("session started, budget %v", s.Session.TimeBudget)
	for {
		select {
		case <-ctx.Done():
			logging.Supervisor("interrupt, stopping cleanly")
			return nil
		default:
		}
		if s.Session.Expired(s.now()) {
			logging.Supervisor("time budget exhausted after %d cycles", s.Session.CyclesRun)
			return nil
		}

		err := s.cycle.Run(ctx)
		s.Session.CyclesRun++

		if err == nil {
			s.Session.ConsecutiveFailureCount = 0
			s.maybeCreate(ctx)
			s.rest(ctx)
			continue
		}

		s.Session.ConsecutiveFailureCount++
		logging.SupervisorWarn("cycle %d failed (streak %d): %v",
			s.Session.CyclesRun, s.Session.ConsecutiveFailureCount, err)

		// A cycle cut short by the operator is an interrupt, not an
		// environment failure; do not let it reach classification.
		if ctx.Err() != nil {
			logging.Supervisor("interrupt during cycle, stopping cleanly")
			return nil
		}

		// Fatal errors never reach the recovery agent.
		if recovery.IsFatal(err) {
			logging.SupervisorError("fatal: %v", err)
			return nil
		}

		if s.healer.DiagnoseAndFix(ctx, err) {
			s.Session.ConsecutiveFailureCount = 0
			s.rest(ctx)
			continue
		}

		// Deep recovery. The loop continues regardless of its outcome;
		// there is no retry ceiling.
		logging.SupervisorWarn("recovery failed, deep reset")
		if s.driver != nil {
			if resetErr := s.driver.Reset(ctx); resetErr != nil {
				logging.SupervisorError("deep reset failed: %v", resetErr)
			}
		}
		s.rest(ctx)
	}
}

// maybeCreate evaluates the trigger and, when it fires, runs the
// production pipeline and consumes a batch of material. The batch is
// marked used as soon as a draft exists, before publish confirms;
// unbounded backlog growth is the worse failure mode, and the consumed
// ledger keeps the marking auditable.
func (s *Supervisor) maybeCreate(ctx context.Context) {
	now := s.now()
	if !s.shouldCreate(now) {
		return
	}
	logging.Supervisor("creation trigger fired (%d high-quality unused)", s.store.HighQualityUnusedCount())
	s.Session.LastCreationTime = now

	material, err := s.pipeline.PickMaterial(ctx)
	if err != nil || material == nil {
		logging.SupervisorWarn("no material picked: %v", err)
		return
	}
	draft, err := s.pipeline.Produce(ctx, material)
	if err != nil || draft == nil {
		logging.SupervisorWarn("production failed: %v", err)
		return
	}
	s.Session.DraftsProduced++

	ids, err := s.store.MarkManyUsed(s.threshold)
	if err != nil {
		logging.SupervisorWarn("mark batch used: %v", err)
	}
	if s.ledger != nil && len(ids) > 0 {
		s.ledger.RecordConsumedBatch(draft.ID, ids)
	}

	published, err := s.pipeline.Publish(ctx, draft)
	if err != nil {
		logging.SupervisorWarn("publish failed, draft %s stays ready: %v", draft.ID, err)
		return
	}
	if published {
		logging.Supervisor("draft %s published", draft.ID)
	}
}

// rest sleeps a jittered interval so the loop has no detectable fixed
// period.
func (s *Supervisor) rest(ctx context.Context) {
	min, max := s.cfg.RestMinSeconds, s.cfg.RestMaxSeconds
	if max <= min {
		max = min + 1
	}
	d := time.Duration((min + s.rng.Float64()*(max-min)) * float64(time.Second))
	s.sleep(ctx, d)
}
