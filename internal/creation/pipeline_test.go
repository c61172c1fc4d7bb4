package creation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightshift/internal/config"
	"nightshift/internal/types"
)

type fakeStore struct{ entries []types.KnowledgeEntry }

func (s *fakeStore) SampleHighQualityUnused(k int) []types.KnowledgeEntry {
	if k > len(s.entries) {
		k = len(s.entries)
	}
	return s.entries[:k]
}

type fakeReasoner struct {
	draft types.Draft
	err   error
}

func (r *fakeReasoner) Analyze(ctx context.Context, title, body string) (types.Analysis, error) {
	return types.Analysis{}, errors.New("not implemented")
}

func (r *fakeReasoner) SynthesizeRepair(ctx context.Context, state types.EnvironmentState, errContext string) (string, error) {
	return "", errors.New("not implemented")
}

func (r *fakeReasoner) Compose(ctx context.Context, material types.KnowledgeEntry) (types.Draft, error) {
	return r.draft, r.err
}

type fakeElement struct{}

func (fakeElement) Origin() string { return "" }

// fakeDriver records composer interactions.
type fakeDriver struct {
	navigates []string
	opens     []string
	typed     map[string]string
	clicks    int
	waitFail  map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{typed: map[string]string{}, waitFail: map[string]bool{}}
}

func (d *fakeDriver) Navigate(ctx context.Context, query string) error {
	d.navigates = append(d.navigates, query)
	return nil
}

func (d *fakeDriver) Open(ctx context.Context, url string) error {
	d.opens = append(d.opens, url)
	return nil
}

func (d *fakeDriver) Locate(ctx context.Context, descriptor string) ([]types.Element, error) {
	return []types.Element{fakeElement{}}, nil
}

func (d *fakeDriver) Click(ctx context.Context, target types.Element) error {
	d.clicks++
	return nil
}

func (d *fakeDriver) Extract(ctx context.Context, target types.Element) (types.Content, error) {
	return types.Content{}, nil
}

func (d *fakeDriver) Scroll(ctx context.Context, amount int) error { return nil }

func (d *fakeDriver) WaitFor(ctx context.Context, descriptor string, timeout time.Duration) error {
	if d.waitFail[descriptor] {
		return errors.New("wait timed out")
	}
	return nil
}

func (d *fakeDriver) Type(ctx context.Context, descriptor, text string) error {
	d.typed[descriptor] = text
	return nil
}

func (d *fakeDriver) Dismiss(ctx context.Context) error { return nil }
func (d *fakeDriver) Location() string                  { return "https://example.com/" }
func (d *fakeDriver) Reset(ctx context.Context) error   { return nil }

func (d *fakeDriver) CaptureState(ctx context.Context) (types.EnvironmentState, error) {
	return types.EnvironmentState{}, nil
}

type staticProfile struct{ p *config.Profile }

func (s staticProfile) Current() *config.Profile { return s.p }

func composerProfile() *config.Profile {
	p := config.DefaultProfile()
	p.Selectors.ComposerURL = "https://creator.example.com/publish"
	p.Selectors.ComposerTitle = "#title"
	p.Selectors.ComposerBody = "#body"
	p.Selectors.ComposerPublish = "#publish"
	p.Selectors.ComposerSuccess = ".published"
	return p
}

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 25, hour, 30, 0, 0, time.UTC)
	}
}

func material() types.KnowledgeEntry {
	return types.KnowledgeEntry{
		ID:       "entry-1",
		Title:    "Source material",
		Body:     "body",
		Analysis: types.Analysis{IsHighQuality: true},
		Status:   types.EntryUnused,
	}
}

func TestPipeline_PickMaterial(t *testing.T) {
	p, err := New(t.TempDir(), &fakeStore{entries: []types.KnowledgeEntry{material()}},
		&fakeReasoner{}, nil, staticProfile{composerProfile()})
	require.NoError(t, err)

	m, err := p.PickMaterial(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "entry-1", m.ID)
}

func TestPipeline_PickMaterialEmpty(t *testing.T) {
	p, err := New(t.TempDir(), &fakeStore{}, &fakeReasoner{}, nil, staticProfile{composerProfile()})
	require.NoError(t, err)

	m, err := p.PickMaterial(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPipeline_ProducePersistsDraft(t *testing.T) {
	workspace := t.TempDir()
	composed := types.Draft{Title: "My take", Body: "text", Status: types.DraftComposed}
	p, err := New(workspace, &fakeStore{}, &fakeReasoner{draft: composed}, nil, staticProfile{composerProfile()})
	require.NoError(t, err)

	m := material()
	draft, err := p.Produce(context.Background(), &m)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.NotEmpty(t, draft.ID)
	assert.Equal(t, "entry-1", draft.SourceEntryID)
	assert.Equal(t, types.DraftReady, draft.Status)

	// Survives a reopen.
	p2, err := New(workspace, &fakeStore{}, &fakeReasoner{}, nil, staticProfile{composerProfile()})
	require.NoError(t, err)
	require.Len(t, p2.Ready(), 1)
	assert.Equal(t, "My take", p2.Ready()[0].Title)
}

func TestPipeline_PublishDrivesComposer(t *testing.T) {
	d := newFakeDriver()
	profile := composerProfile()
	profile.PublishHours = []int{9, 12, 19}

	p, err := New(t.TempDir(), &fakeStore{}, &fakeReasoner{draft: types.Draft{Title: "T", Body: "B"}},
		d, staticProfile{profile}, WithClock(fixedClock(12)))
	require.NoError(t, err)

	m := material()
	draft, err := p.Produce(context.Background(), &m)
	require.NoError(t, err)

	ok, err := p.Publish(context.Background(), draft)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.DraftPublished, draft.Status)
	assert.NotNil(t, draft.PublishedAt)
	assert.Equal(t, "T", d.typed["#title"])
	assert.Equal(t, "B", d.typed["#body"])
	assert.Equal(t, []string{"https://creator.example.com/publish"}, d.opens,
		"composer opens by direct URL load")
	assert.Empty(t, d.navigates, "the composer URL is not a search query")
	assert.Empty(t, p.Ready())
}

func TestPipeline_PublishOutsideWindowIsDeferred(t *testing.T) {
	d := newFakeDriver()
	profile := composerProfile()
	profile.PublishHours = []int{9}

	p, err := New(t.TempDir(), &fakeStore{}, &fakeReasoner{draft: types.Draft{Title: "T", Body: "B"}},
		d, staticProfile{profile}, WithClock(fixedClock(3)))
	require.NoError(t, err)

	m := material()
	draft, err := p.Produce(context.Background(), &m)
	require.NoError(t, err)

	ok, err := p.Publish(context.Background(), draft)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, types.DraftReady, draft.Status)
	assert.Empty(t, d.opens, "composer never opened")
	assert.Len(t, p.Ready(), 1)
}

func TestPipeline_PublishUnconfirmedIsError(t *testing.T) {
	d := newFakeDriver()
	d.waitFail[".published"] = true

	p, err := New(t.TempDir(), &fakeStore{}, &fakeReasoner{draft: types.Draft{Title: "T", Body: "B"}},
		d, staticProfile{composerProfile()}, WithClock(fixedClock(12)))
	require.NoError(t, err)

	m := material()
	draft, err := p.Produce(context.Background(), &m)
	require.NoError(t, err)

	ok, err := p.Publish(context.Background(), draft)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, types.DraftReady, draft.Status, "unconfirmed publish does not flip status")
}

func TestPipeline_NoDriverNeverPublishes(t *testing.T) {
	p, err := New(t.TempDir(), &fakeStore{}, &fakeReasoner{draft: types.Draft{Title: "T", Body: "B"}},
		nil, staticProfile{composerProfile()}, WithClock(fixedClock(12)))
	require.NoError(t, err)

	m := material()
	draft, err := p.Produce(context.Background(), &m)
	require.NoError(t, err)

	ok, err := p.Publish(context.Background(), draft)
	require.NoError(t, err)
	assert.False(t, ok)
}
