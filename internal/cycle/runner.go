// Package cycle implements one consumption pass over the environment:
// rotate the candidate pool, pick a target, open it, engage shallowly
// or deeply, and close. Every raised error carries the stage it came
// from; the supervisor catches all of them.
package cycle

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"nightshift/internal/config"
	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// ProfileSource yields the live environment profile.
type ProfileSource interface {
	Current() *config.Profile
}

// Saver is the slice of the knowledge store the cycle writes to.
type Saver interface {
	Save(entry types.KnowledgeEntry) bool
}

// ActionLedger records outward-visible engagement actions.
type ActionLedger interface {
	RecordAction(kind, detail string)
}

// Runner drives the consumption state machine. One Runner serves one
// session; it is not safe for concurrent use and does not need to be.
type Runner struct {
	driver   types.Driver
	reasoner types.Reasoner
	store    Saver
	profiles ProfileSource
	ledger   ActionLedger
	cfg      config.CycleConfig
	rng      *rand.Rand

	count       int
	rotateEvery int
	keywordIdx  int
}

// NewRunner builds a cycle runner. The rotation interval is drawn once
// per run so consecutive sessions rotate on different beats.
func NewRunner(driver types.Driver, reasoner types.Reasoner, store Saver, profiles ProfileSource, ledger ActionLedger, cfg config.CycleConfig, rng *rand.Rand) *Runner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	span := cfg.RotateEveryMax - cfg.RotateEveryMin
	rotate := cfg.RotateEveryMin
	if span > 0 {
		rotate += rng.Intn(span + 1)
	}
	if rotate < 1 {
		rotate = 1
	}
	return &Runner{
		driver:   driver,
		reasoner: reasoner,
		store:    store,
		profiles: profiles,
		ledger:   ledger,
		cfg:      cfg,
		rng:      rng,

		rotateEvery: rotate,
	}
}

// Run executes one full cycle. A nil return covers both a completed
// engagement and a deliberate no-op (open timeout); anything else is an
// error for the supervisor to classify.
func (r *Runner) Run(ctx context.Context) error {
	profile := r.profiles.Current()
	r.count++

	if err := r.checkDrift(profile); err != nil {
		return err
	}

	if r.count == 1 || r.count%r.rotateEvery == 0 {
		if err := r.rotateContext(ctx, profile); err != nil {
			return fmt.Errorf("rotate context: %w", err)
		}
	}

	if err := r.awaitReady(ctx, profile); err != nil {
		return fmt.Errorf("await ready: %w", err)
	}

	candidates, err := r.locateCandidates(ctx, profile)
	if err != nil {
		return fmt.Errorf("locate candidates: %w", err)
	}

	target := r.selectTarget(candidates)

	opened, err := r.openDetail(ctx, profile, target)
	if err != nil {
		return fmt.Errorf("open detail: %w", err)
	}
	if !opened {
		logging.Cycle("cycle %d: open timed out, skipping candidate", r.count)
		return nil
	}

	if err := r.engage(ctx, profile, target); err != nil {
		// Close before surfacing so the next cycle starts from the list.
		r.closeDetail(ctx, profile)
		return fmt.Errorf("engage: %w", err)
	}

	r.closeDetail(ctx, profile)
	logging.Cycle("cycle %d complete", r.count)
	return nil
}

// checkDrift raises when the page wandered off the target host; the
// recovery fallback brings it home.
func (r *Runner) checkDrift(profile *config.Profile) error {
	loc := r.driver.Location()
	if loc == "" {
		return nil
	}
	u, err := url.Parse(loc)
	if err != nil {
		return nil
	}
	h := u.Hostname()
	if h == "" || h == profile.BaseHost || strings.HasSuffix(h, "."+profile.BaseHost) {
		return nil
	}
	return fmt.Errorf("drift check: on %s, expected %s", h, profile.BaseHost)
}

func (r *Runner) rotateContext(ctx context.Context, profile *config.Profile) error {
	kw := profile.Keywords[r.keywordIdx%len(profile.Keywords)]
	r.keywordIdx++
	logging.Cycle("cycle %d: rotating context to %q (every %d)", r.count, kw, r.rotateEvery)
	return r.driver.Navigate(ctx, kw)
}

func (r *Runner) awaitReady(ctx context.Context, profile *config.Profile) error {
	return r.driver.WaitFor(ctx, profile.Selectors.Card, 10*time.Second)
}

// locateCandidates reads the visible candidates, scrolling once to
// surface more before giving up.
func (r *Runner) locateCandidates(ctx context.Context, profile *config.Profile) ([]types.Element, error) {
	els, err := r.driver.Locate(ctx, profile.Selectors.Card)
	if err != nil {
		return nil, err
	}
	if len(els) > 0 {
		return els, nil
	}
	if err := r.driver.Scroll(ctx, 600); err != nil {
		return nil, err
	}
	els, err = r.driver.Locate(ctx, profile.Selectors.Card)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("no candidates visible after scroll retry")
	}
	return els, nil
}

// selectTarget picks uniformly among the first few candidates. The
// position bias is deliberate; it matches a person's attention span.
func (r *Runner) selectTarget(candidates []types.Element) types.Element {
	window := r.cfg.CandidateWindow
	if window <= 0 || window > len(candidates) {
		window = len(candidates)
	}
	return candidates[r.rng.Intn(window)]
}

// openDetail clicks the target and waits for the detail view. A timeout
// is not an error: the candidate is abandoned and the cycle is a no-op.
func (r *Runner) openDetail(ctx context.Context, profile *config.Profile, target types.Element) (bool, error) {
	if err := r.driver.Click(ctx, target); err != nil {
		return false, err
	}
	timeout := time.Duration(r.cfg.OpenTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := r.driver.WaitFor(ctx, profile.Selectors.DetailMask, timeout); err != nil {
		_ = r.driver.Dismiss(ctx)
		return false, nil
	}
	return true, nil
}

func (r *Runner) engage(ctx context.Context, profile *config.Profile, target types.Element) error {
	if r.rng.Float64() < r.cfg.ProbDeepEngage {
		return r.engageDeep(ctx, profile, target)
	}
	return r.engageShallow(ctx, profile)
}

// engageShallow skims: a few scrolls and low-probability reactions.
// The reasoning service is never consulted and nothing is persisted.
func (r *Runner) engageShallow(ctx context.Context, profile *config.Profile) error {
	logging.CycleDebug("cycle %d: shallow engagement", r.count)
	for i, n := 0, 1+r.rng.Intn(3); i < n; i++ {
		if err := r.driver.Scroll(ctx, 300+r.rng.Intn(400)); err != nil {
			return err
		}
	}
	if r.rng.Float64() < r.cfg.ProbShallowLike {
		r.react(ctx, "like", profile.Selectors.Like, "")
	}
	if r.rng.Float64() < r.cfg.ProbShallowSave {
		r.react(ctx, "save", profile.Selectors.Save, "")
	}
	return nil
}

// engageDeep reads the detail, asks the reasoning service for a
// judgment, persists relevant material, and reacts.
func (r *Runner) engageDeep(ctx context.Context, profile *config.Profile, target types.Element) error {
	logging.CycleDebug("cycle %d: deep engagement", r.count)

	title, _, err := r.extractFirst(ctx, profile.Selectors.DetailTitle)
	if err != nil {
		return fmt.Errorf("extract title: %w", err)
	}
	body, media, err := r.extractFirst(ctx, profile.Selectors.DetailBody)
	if err != nil {
		return fmt.Errorf("extract body: %w", err)
	}

	analysis, err := r.reasoner.Analyze(ctx, title, body)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if !analysis.IsRelevant {
		logging.Cycle("cycle %d: not relevant, aborting engagement", r.count)
		return nil
	}

	// Relevant material is persisted whether or not any reaction or
	// comment follows.
	entry := types.KnowledgeEntry{
		ID:          uuid.NewString(),
		Origin:      target.Origin(),
		Title:       title,
		Body:        body,
		SourceURL:   r.driver.Location(),
		MediaRefs:   media,
		Analysis:    analysis,
		CollectedAt: time.Now(),
		Status:      types.EntryUnused,
	}
	if r.store.Save(entry) {
		logging.Knowledge("collected %q (quality=%v)", truncate(title, 60), analysis.IsHighQuality)
	}

	if r.rng.Float64() < r.cfg.ProbLike {
		r.react(ctx, "like", profile.Selectors.Like, title)
	}
	if r.rng.Float64() < r.cfg.ProbSave {
		r.react(ctx, "save", profile.Selectors.Save, title)
	}

	if analysis.ShouldComment && analysis.CommentText != "" && r.rng.Float64() < r.cfg.ProbPostComment {
		r.postComment(ctx, profile, analysis.CommentText, title)
	}
	return nil
}

// react clicks the first matching selector from a fallback list.
// Reaction failures are logged, not raised; they never abort a cycle.
func (r *Runner) react(ctx context.Context, kind string, selectors []string, detail string) {
	if err := r.clickFirst(ctx, selectors); err != nil {
		logging.CycleWarn("%s failed: %v", kind, err)
		return
	}
	logging.Cycle("cycle %d: %s", r.count, kind)
	if r.ledger != nil {
		r.ledger.RecordAction(kind, detail)
	}
}

// postComment writes a response when the channel allows it.
func (r *Runner) postComment(ctx context.Context, profile *config.Profile, text, detail string) {
	s := profile.Selectors
	if s.CommentRestricted != "" {
		if els, err := r.driver.Locate(ctx, s.CommentRestricted); err == nil && len(els) > 0 {
			logging.Cycle("cycle %d: responses restricted, skipping comment", r.count)
			return
		}
	}
	if err := r.clickFirst(ctx, s.CommentActivate); err != nil {
		logging.CycleWarn("comment activate failed: %v", err)
		return
	}
	typed := false
	for _, sel := range s.CommentActivate {
		if err := r.driver.Type(ctx, sel, text); err == nil {
			typed = true
			break
		}
	}
	if !typed {
		logging.CycleWarn("comment entry failed on every input selector")
		return
	}
	if err := r.clickFirst(ctx, s.CommentSubmit); err != nil {
		logging.CycleWarn("comment submit failed: %v", err)
		return
	}
	logging.Cycle("cycle %d: commented", r.count)
	if r.ledger != nil {
		r.ledger.RecordAction("comment", detail)
	}
}

func (r *Runner) closeDetail(ctx context.Context, profile *config.Profile) {
	if err := r.clickFirst(ctx, profile.Selectors.Close); err != nil {
		logging.CycleWarn("close failed (%v), dismissing", err)
		_ = r.driver.Dismiss(ctx)
	}
}

// clickFirst tries a fallback selector list in order and clicks the
// first visible match.
func (r *Runner) clickFirst(ctx context.Context, selectors []string) error {
	if len(selectors) == 0 {
		return fmt.Errorf("no selectors configured")
	}
	var lastErr error
	for _, sel := range selectors {
		els, err := r.driver.Locate(ctx, sel)
		if err != nil {
			lastErr = err
			continue
		}
		if len(els) == 0 {
			lastErr = fmt.Errorf("no visible match for %q", sel)
			continue
		}
		return r.driver.Click(ctx, els[0])
	}
	return lastErr
}

// extractFirst locates a selector and extracts the first match.
func (r *Runner) extractFirst(ctx context.Context, selector string) (string, []string, error) {
	els, err := r.driver.Locate(ctx, selector)
	if err != nil {
		return "", nil, err
	}
	if len(els) == 0 {
		return "", nil, fmt.Errorf("no visible match for %q", selector)
	}
	content, err := r.driver.Extract(ctx, els[0])
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(content.Text), content.MediaRefs, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
