package types

import (
	"context"
	"time"
)

// Element is an opaque handle to something the Driver located. Only the
// Driver that produced it can act on it.
type Element interface {
	// Origin returns a stable content origin identifier parsed from the
	// element (typically from its link), or "" when none is available.
	Origin() string
}

// Driver is the environment capability set. The core depends only on
// this vocabulary, never on how a particular driver resolves it.
//
// Navigate issues a fresh query against the environment (a search, not a
// raw URL load). Locate resolves a selector-ish descriptor to the
// currently visible matches. WaitFor blocks until the descriptor matches
// a visible element or the timeout elapses.
type Driver interface {
	Navigate(ctx context.Context, query string) error
	// Open loads a URL directly, bypassing the search flow. Used for
	// surfaces that are not reachable by query, like the composer.
	Open(ctx context.Context, url string) error
	Locate(ctx context.Context, descriptor string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	Extract(ctx context.Context, el Element) (Content, error)
	Scroll(ctx context.Context, amount int) error
	WaitFor(ctx context.Context, descriptor string, timeout time.Duration) error

	// Type activates the descriptor and enters text with human pacing.
	Type(ctx context.Context, descriptor, text string) error
	// Dismiss closes whatever overlay is in front (generic escape).
	Dismiss(ctx context.Context) error

	// Location reports where the driver currently is.
	Location() string
	// Reset returns the environment to its known baseline state and
	// waits for it to settle. Used by deep recovery and the reset
	// fallback; never exposed to synthesized repair plans.
	Reset(ctx context.Context) error
	// CaptureState takes a diagnostic snapshot of the environment.
	CaptureState(ctx context.Context) (EnvironmentState, error)
}

// Reasoner is the external reasoning service.
type Reasoner interface {
	// Analyze judges a piece of content for relevance, quality, and
	// whether it deserves a generated response.
	Analyze(ctx context.Context, title, body string) (Analysis, error)
	// SynthesizeRepair returns a short corrective procedure expressed in
	// the restricted repair-plan vocabulary (see internal/recovery).
	SynthesizeRepair(ctx context.Context, state EnvironmentState, errContext string) (string, error)
	// Compose writes a draft from one piece of collected material.
	Compose(ctx context.Context, material KnowledgeEntry) (Draft, error)
}

// Pipeline is the production side: pick material, produce a draft,
// publish it. Any step may decline by returning nil/false without error.
type Pipeline interface {
	PickMaterial(ctx context.Context) (*KnowledgeEntry, error)
	Produce(ctx context.Context, material *KnowledgeEntry) (*Draft, error)
	Publish(ctx context.Context, draft *Draft) (bool, error)
}
