package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightshift/internal/types"
)

// fakeElement satisfies types.Element.
type fakeElement struct{ origin string }

func (f fakeElement) Origin() string { return f.origin }

// fakeDriver scripts the environment for plan execution tests.
type fakeDriver struct {
	matches   map[string]int // selector -> visible element count
	resetErr  error
	resets    int
	clicks    []string
	navigates []string
}

func (d *fakeDriver) Navigate(ctx context.Context, query string) error {
	d.navigates = append(d.navigates, query)
	return nil
}

func (d *fakeDriver) Open(ctx context.Context, url string) error { return nil }

func (d *fakeDriver) Locate(ctx context.Context, descriptor string) ([]types.Element, error) {
	n := d.matches[descriptor]
	els := make([]types.Element, n)
	for i := range els {
		els[i] = fakeElement{}
	}
	return els, nil
}

func (d *fakeDriver) Click(ctx context.Context, target types.Element) error {
	d.clicks = append(d.clicks, target.Origin())
	return nil
}

func (d *fakeDriver) Extract(ctx context.Context, target types.Element) (types.Content, error) {
	return types.Content{Text: "text"}, nil
}

func (d *fakeDriver) Scroll(ctx context.Context, amount int) error { return nil }

func (d *fakeDriver) WaitFor(ctx context.Context, descriptor string, timeout time.Duration) error {
	if d.matches[descriptor] == 0 {
		return errors.New("wait timed out")
	}
	return nil
}

func (d *fakeDriver) Type(ctx context.Context, descriptor, text string) error { return nil }
func (d *fakeDriver) Dismiss(ctx context.Context) error                       { return nil }
func (d *fakeDriver) Location() string                                        { return "https://example.com/" }

func (d *fakeDriver) Reset(ctx context.Context) error {
	d.resets++
	return d.resetErr
}

func (d *fakeDriver) CaptureState(ctx context.Context) (types.EnvironmentState, error) {
	return types.EnvironmentState{URL: d.Location(), CapturedAt: time.Now()}, nil
}

// fakeReasoner returns a canned plan.
type fakeReasoner struct {
	plan   string
	err    error
	called int
}

func (r *fakeReasoner) Analyze(ctx context.Context, title, body string) (types.Analysis, error) {
	return types.Analysis{}, errors.New("not implemented")
}

func (r *fakeReasoner) SynthesizeRepair(ctx context.Context, state types.EnvironmentState, errContext string) (string, error) {
	r.called++
	return r.plan, r.err
}

func (r *fakeReasoner) Compose(ctx context.Context, material types.KnowledgeEntry) (types.Draft, error) {
	return types.Draft{}, errors.New("not implemented")
}

// fakeLedger counts recorder calls.
type fakeLedger struct {
	errorsRecorded int
	recoveries     []string
}

func (l *fakeLedger) RecordError(stage, message string, screenshot []byte) { l.errorsRecorded++ }
func (l *fakeLedger) RecordRecovery(signature, classification string, planAttempted, repaired, fallbackTaken bool) {
	l.recoveries = append(l.recoveries, classification)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  string
		want Class
	}{
		{"rod: Target closed", ClassFatal},
		{"websocket: close 1006 (abnormal closure)", ClassFatal},
		{"net::ERR_TIMED_OUT", ClassTransient},
		{"dial tcp: connection refused", ClassTransient},
		{"browser: wait for \".mask\": element not found", ClassRecoverableUnknown},
		{"browser: click: context canceled", ClassRecoverableUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(errors.New(tc.err)), tc.err)
	}
}

func TestParsePlan_Valid(t *testing.T) {
	text := `
locate section.note-item
scroll 800
wait div.close-circle 5000
click div.close-circle
emit REPAIR_OK
`
	plan, err := ParsePlan(text, 12)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 5)
	assert.Equal(t, 800, plan.Steps[1].Pixels, "scroll amount parsed once, at parse time")
	assert.Equal(t, "wait", plan.Steps[2].Verb)
	assert.Equal(t, "div.close-circle", plan.Steps[2].Arg)
	assert.Equal(t, 5*time.Second, plan.Steps[2].Timeout)
}

func TestParsePlan_SelectorWithSpaces(t *testing.T) {
	plan, err := ParsePlan("wait div.modal > button 3000\nemit REPAIR_OK", 12)
	require.NoError(t, err)
	assert.Equal(t, "div.modal > button", plan.Steps[0].Arg)
}

func TestParsePlan_WholeRejection(t *testing.T) {
	// One bad line poisons the plan; the valid lines are not salvaged.
	text := `
locate section.note-item
os.system("rm -rf /")
emit REPAIR_OK
`
	_, err := ParsePlan(text, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestParsePlan_Limits(t *testing.T) {
	_, err := ParsePlan("", 12)
	assert.Error(t, err, "empty plan")

	long := ""
	for i := 0; i < 13; i++ {
		long += "scroll 100\n"
	}
	_, err = ParsePlan(long, 12)
	assert.Error(t, err, "too many steps")

	_, err = ParsePlan("scroll -5", 12)
	assert.Error(t, err, "negative scroll")

	_, err = ParsePlan("wait .x 999999", 12)
	assert.Error(t, err, "absurd wait")
}

func TestValidated(t *testing.T) {
	assert.True(t, Validated([]string{RepairOK}))
	assert.False(t, Validated(nil))
	assert.False(t, Validated([]string{RepairFailed}))
	assert.False(t, Validated([]string{RepairOK, RepairFailed}), "both sentinels is not success")
	assert.False(t, Validated([]string{RepairFailed, RepairOK}), "order does not matter")
}

func TestExecutor_RunsPlan(t *testing.T) {
	d := &fakeDriver{matches: map[string]int{".card": 2, ".close": 1}}
	ex := NewExecutor(d, 5*time.Second)

	plan, err := ParsePlan("locate .card\nclick .close\nemit REPAIR_OK", 12)
	require.NoError(t, err)

	emitted, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{RepairOK}, emitted)
	assert.Len(t, d.clicks, 1)
}

func TestExecutor_LocateMiss(t *testing.T) {
	d := &fakeDriver{matches: map[string]int{}}
	ex := NewExecutor(d, 5*time.Second)

	plan, err := ParsePlan("locate .gone\nemit REPAIR_OK", 12)
	require.NoError(t, err)

	emitted, err := ex.Execute(context.Background(), plan)
	assert.Error(t, err)
	assert.Empty(t, emitted)
}

// hangingDriver blocks in WaitFor until the step's context is cancelled,
// simulating a page that never produces the awaited element.
type hangingDriver struct {
	*fakeDriver
}

func (d *hangingDriver) WaitFor(ctx context.Context, descriptor string, timeout time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExecutor_DeadlineBoundsHangingPlan(t *testing.T) {
	d := &hangingDriver{fakeDriver: &fakeDriver{matches: map[string]int{}}}
	ex := NewExecutor(d, 200*time.Millisecond)

	plan, err := ParsePlan("wait .never-appears 60000\nemit REPAIR_OK", 12)
	require.NoError(t, err)

	start := time.Now()
	emitted, err := ex.Execute(context.Background(), plan)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
	assert.Empty(t, emitted)
	assert.Less(t, elapsed, 5*time.Second, "execution must end at the deadline, not the step timeout")
}

func TestAgent_FatalShortCircuits(t *testing.T) {
	d := &fakeDriver{}
	r := &fakeReasoner{plan: "emit REPAIR_OK"}
	a := NewAgent(d, r, &fakeLedger{}, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("rod: Target closed"))

	assert.False(t, ok)
	assert.Zero(t, r.called, "no synthesis for fatal errors")
	assert.Zero(t, d.resets, "no fallback for fatal errors")
}

func TestAgent_TransientSkipsSynthesis(t *testing.T) {
	d := &fakeDriver{}
	r := &fakeReasoner{plan: "emit REPAIR_OK"}
	a := NewAgent(d, r, &fakeLedger{}, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("net::ERR_CONNECTION_RESET"))

	assert.True(t, ok, "reset fallback succeeded")
	assert.Zero(t, r.called, "no synthesis for transport failures")
	assert.Equal(t, 1, d.resets)
}

func TestAgent_ValidatedPlanRepairs(t *testing.T) {
	d := &fakeDriver{matches: map[string]int{"div.close": 1}}
	r := &fakeReasoner{plan: "click div.close\nemit REPAIR_OK"}
	ledger := &fakeLedger{}
	a := NewAgent(d, r, ledger, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("element not found"))

	assert.True(t, ok)
	assert.Equal(t, 1, r.called)
	assert.Zero(t, d.resets, "no fallback after a validated repair")
	assert.Equal(t, 1, ledger.errorsRecorded)
}

func TestAgent_BothSentinelsIsFailure(t *testing.T) {
	// A plan that emits the failure token never counts as a repair, even
	// when it also emitted the success token. With the fallback also
	// failing, the overall answer must be false.
	d := &fakeDriver{resetErr: errors.New("reload lost")}
	r := &fakeReasoner{plan: "emit REPAIR_OK\nemit REPAIR_FAILED"}
	a := NewAgent(d, r, &fakeLedger{}, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("element not found"))

	assert.False(t, ok)
	assert.Equal(t, 1, d.resets, "plan result discarded, fallback attempted")
}

func TestAgent_EverythingFailsIsFalse(t *testing.T) {
	d := &fakeDriver{resetErr: errors.New("reload lost")}
	r := &fakeReasoner{err: errors.New("api unavailable")}
	a := NewAgent(d, r, &fakeLedger{}, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("element not found"))
	assert.False(t, ok)
}

func TestAgent_RejectedPlanFallsBack(t *testing.T) {
	d := &fakeDriver{}
	r := &fakeReasoner{plan: "exec rm -rf /\nemit REPAIR_OK"}
	a := NewAgent(d, r, &fakeLedger{}, time.Second, 12)

	ok := a.DiagnoseAndFix(context.Background(), errors.New("element not found"))

	assert.True(t, ok)
	assert.Equal(t, 1, d.resets)
}
