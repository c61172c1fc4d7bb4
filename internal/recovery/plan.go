package recovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel tokens a plan emits to report its own outcome. Success
// requires RepairOK to be observed and RepairFailed to be absent.
const (
	RepairOK     = "REPAIR_OK"
	RepairFailed = "REPAIR_FAILED"
)

// Step is one validated plan line.
type Step struct {
	Verb string
	Arg  string
	// Scroll steps carry their pixel amount; zero elsewhere.
	Pixels int
	// Wait steps carry a bound; zero elsewhere.
	Timeout time.Duration
}

// Plan is a fully validated repair procedure. Construction is the only
// gate: a Plan value always contains allowed verbs only.
type Plan struct {
	Steps []Step
}

// ParsePlan validates synthesized plan text line by line. A single
// disallowed or malformed line rejects the whole plan; nothing is
// salvaged from partially valid text.
func ParsePlan(text string, maxSteps int) (Plan, error) {
	if maxSteps <= 0 {
		maxSteps = 12
	}
	var plan Plan
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		step, err := parseStep(line)
		if err != nil {
			return Plan{}, fmt.Errorf("plan line %d: %w", i+1, err)
		}
		plan.Steps = append(plan.Steps, step)
	}
	if len(plan.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan is empty")
	}
	if len(plan.Steps) > maxSteps {
		return Plan{}, fmt.Errorf("plan has %d steps, limit %d", len(plan.Steps), maxSteps)
	}
	return plan, nil
}

func parseStep(line string) (Step, error) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "navigate", "locate", "click", "extract", "emit":
		if rest == "" {
			return Step{}, fmt.Errorf("%s requires an argument", verb)
		}
		return Step{Verb: verb, Arg: rest}, nil
	case "scroll":
		px, err := strconv.Atoi(rest)
		if err != nil || px <= 0 || px > 10000 {
			return Step{}, fmt.Errorf("scroll requires pixels in (0,10000], got %q", rest)
		}
		return Step{Verb: verb, Arg: rest, Pixels: px}, nil
	case "wait":
		sel, msStr, ok := cutLast(rest)
		if !ok {
			return Step{}, fmt.Errorf("wait requires <selector> <ms>")
		}
		ms, err := strconv.Atoi(msStr)
		if err != nil || ms <= 0 || ms > 60000 {
			return Step{}, fmt.Errorf("wait timeout must be in (0,60000] ms, got %q", msStr)
		}
		return Step{Verb: verb, Arg: sel, Timeout: time.Duration(ms) * time.Millisecond}, nil
	default:
		return Step{}, fmt.Errorf("verb %q not allowed", verb)
	}
}

// cutLast splits on the final space so selectors containing spaces
// survive ("div.modal > button 5000").
func cutLast(s string) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}
