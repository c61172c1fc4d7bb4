// Package creation is the production pipeline: pick collected
// material, compose an original draft with the reasoning service, and
// publish it through the environment's composer when the publishing
// window allows. Drafts persist across runs so a composed piece is
// never lost to a publish-window miss.
package creation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"nightshift/internal/config"
	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// MaterialSource is the slice of the knowledge store the pipeline
// draws from.
type MaterialSource interface {
	SampleHighQualityUnused(k int) []types.KnowledgeEntry
}

// ProfileSource yields the live environment profile.
type ProfileSource interface {
	Current() *config.Profile
}

// Pipeline implements types.Pipeline on top of the reasoning service
// and the environment driver.
type Pipeline struct {
	store    MaterialSource
	reasoner types.Reasoner
	driver   types.Driver
	profiles ProfileSource
	path     string // drafts file
	now      func() time.Time

	drafts []types.Draft
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock substitutes the time source; publish-window tests pin it.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New loads the drafts file and builds the pipeline. The driver may be
// nil; Publish then always reports not-published.
func New(workspace string, store MaterialSource, reasoner types.Reasoner, driver types.Driver, profiles ProfileSource, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		store:    store,
		reasoner: reasoner,
		driver:   driver,
		profiles: profiles,
		path:     filepath.Join(workspace, ".nightshift", "drafts.json"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("creation: read drafts: %w", err)
	}
	if err := json.Unmarshal(data, &p.drafts); err != nil {
		logging.CreationWarn("drafts file unreadable, starting fresh: %v", err)
		p.drafts = nil
	}
	return nil
}

func (p *Pipeline) persist() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creation: ensure dir: %w", err)
	}
	drafts := p.drafts
	if drafts == nil {
		drafts = []types.Draft{}
	}
	data, err := json.MarshalIndent(drafts, "", "  ")
	if err != nil {
		return fmt.Errorf("creation: encode drafts: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("creation: write drafts: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("creation: replace drafts: %w", err)
	}
	return nil
}

// PickMaterial draws one random high-quality unused entry, or nil when
// the store has nothing worth producing from.
func (p *Pipeline) PickMaterial(ctx context.Context) (*types.KnowledgeEntry, error) {
	entries := p.store.SampleHighQualityUnused(1)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Produce composes a draft from the material and persists it.
func (p *Pipeline) Produce(ctx context.Context, material *types.KnowledgeEntry) (*types.Draft, error) {
	if material == nil {
		return nil, nil
	}
	draft, err := p.reasoner.Compose(ctx, *material)
	if err != nil {
		return nil, fmt.Errorf("creation: compose: %w", err)
	}
	draft.ID = uuid.NewString()
	draft.SourceEntryID = material.ID
	draft.CreatedAt = p.now()
	draft.Status = types.DraftReady

	p.drafts = append(p.drafts, draft)
	if err := p.persist(); err != nil {
		return nil, err
	}
	logging.Creation("composed draft %q from %q", draft.Title, material.Title)
	return &draft, nil
}

// Publish pushes a ready draft through the environment's composer. It
// returns false without error when publishing is gated off: outside the
// publish window, no composer configured, or no driver.
func (p *Pipeline) Publish(ctx context.Context, draft *types.Draft) (bool, error) {
	if draft == nil || draft.Status == types.DraftPublished {
		return false, nil
	}
	profile := p.profiles.Current()
	if !p.inPublishWindow(profile) {
		logging.Creation("outside publish window, draft %s stays ready", draft.ID)
		return false, nil
	}
	s := profile.Selectors
	if p.driver == nil || s.ComposerURL == "" || s.ComposerTitle == "" || s.ComposerBody == "" || s.ComposerPublish == "" {
		logging.CreationWarn("no composer configured, draft %s stays ready", draft.ID)
		return false, nil
	}

	// The composer is not searchable; it only opens by direct URL load.
	if err := p.driver.Open(ctx, s.ComposerURL); err != nil {
		return false, fmt.Errorf("creation: open composer: %w", err)
	}
	if err := p.driver.WaitFor(ctx, s.ComposerTitle, 15*time.Second); err != nil {
		return false, fmt.Errorf("creation: composer not ready: %w", err)
	}
	if err := p.driver.Type(ctx, s.ComposerTitle, draft.Title); err != nil {
		return false, fmt.Errorf("creation: enter title: %w", err)
	}
	if err := p.driver.Type(ctx, s.ComposerBody, draft.Body); err != nil {
		return false, fmt.Errorf("creation: enter body: %w", err)
	}
	els, err := p.driver.Locate(ctx, s.ComposerPublish)
	if err != nil || len(els) == 0 {
		return false, fmt.Errorf("creation: publish control missing: %v", err)
	}
	if err := p.driver.Click(ctx, els[0]); err != nil {
		return false, fmt.Errorf("creation: click publish: %w", err)
	}
	if s.ComposerSuccess != "" {
		if err := p.driver.WaitFor(ctx, s.ComposerSuccess, 20*time.Second); err != nil {
			return false, fmt.Errorf("creation: publish not confirmed: %w", err)
		}
	}

	p.markPublished(draft)
	logging.Creation("published draft %q", draft.Title)
	return true, nil
}

func (p *Pipeline) markPublished(draft *types.Draft) {
	now := p.now()
	draft.Status = types.DraftPublished
	draft.PublishedAt = &now
	for i := range p.drafts {
		if p.drafts[i].ID == draft.ID {
			p.drafts[i] = *draft
			break
		}
	}
	if err := p.persist(); err != nil {
		logging.CreationWarn("persist after publish: %v", err)
	}
}

// inPublishWindow checks the profile's allowed hours. An empty list
// means any hour is fine.
func (p *Pipeline) inPublishWindow(profile *config.Profile) bool {
	if len(profile.PublishHours) == 0 {
		return true
	}
	hour := p.now().Hour()
	for _, h := range profile.PublishHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Ready returns drafts composed but not yet published, oldest first.
func (p *Pipeline) Ready() []types.Draft {
	var out []types.Draft
	for _, d := range p.drafts {
		if d.Status == types.DraftReady {
			out = append(out, d)
		}
	}
	return out
}
