package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspaceFile(t *testing.T, workspace, name, content string) {
	t.Helper()
	dir := filepath.Join(workspace, ".nightshift")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	want := Default()
	want.LLM.APIKey = "test-key"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "config.yaml", `
session:
  time_budget: 8h
  creation_threshold: 5
cycle:
  prob_deep_engage: 0.9
knowledge:
  buffer_size: 10
`)

	cfg, err := Load(workspace)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.CreationThreshold)
	assert.Equal(t, 0.9, cfg.Cycle.ProbDeepEngage)
	assert.Equal(t, 10, cfg.Knowledge.BufferSize)

	budget, err := cfg.TimeBudget()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, budget)

	// Untouched knobs keep their defaults.
	assert.Equal(t, 0.7, cfg.Cycle.ProbPostComment)
}

func TestLoad_EnvKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.LLM.APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative threshold", func(c *Config) { c.Session.CreationThreshold = -1 }},
		{"probability above one", func(c *Config) { c.Cycle.ProbDeepEngage = 1.5 }},
		{"negative probability", func(c *Config) { c.Cycle.ProbLike = -0.1 }},
		{"rest range inverted", func(c *Config) { c.Session.RestMinSeconds = 9; c.Session.RestMaxSeconds = 2 }},
		{"rotate range inverted", func(c *Config) { c.Cycle.RotateEveryMin = 7; c.Cycle.RotateEveryMax = 4 }},
		{"bad duration", func(c *Config) { c.Session.TimeBudget = "yesterday" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.APIKey = "k"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	cooldown, err := cfg.CreationCooldown()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cooldown)

	planTimeout, err := cfg.PlanTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, planTimeout)

	flush, err := cfg.FlushInterval()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, flush)
}

func TestLoadProfile_Defaults(t *testing.T) {
	p, err := LoadProfile(t.TempDir())
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultProfile(), p); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProfile_File(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "profile.yaml", `
base_url: https://notes.example.org
base_host: notes.example.org
keywords: [go tooling, build systems]
origin_pattern: '/n/(\d+)'
publish_hours: [9, 19]
selectors:
  search_input: "#q"
  card: article.note
  detail_mask: .overlay
  detail_title: h1.title
  detail_body: div.content
`)

	p, err := LoadProfile(workspace)
	require.NoError(t, err)
	assert.Equal(t, "notes.example.org", p.BaseHost)
	assert.Equal(t, []string{"go tooling", "build systems"}, p.Keywords)
	assert.Equal(t, []int{9, 19}, p.PublishHours)
	assert.Equal(t, "article.note", p.Selectors.Card)
}

func TestProfileValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"no keywords", func(p *Profile) { p.Keywords = nil }},
		{"no base url", func(p *Profile) { p.BaseURL = "" }},
		{"missing selector", func(p *Profile) { p.Selectors.Card = "" }},
		{"bad origin pattern", func(p *Profile) { p.OriginPattern = "([" }},
		{"publish hour out of range", func(p *Profile) { p.PublishHours = []int{25} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultProfile()
			tc.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestProfileWatcher_ReloadsOnChange(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".nightshift"), 0o755))
	initial := DefaultProfile()

	pw, err := NewProfileWatcher(workspace, initial)
	require.NoError(t, err)
	require.NoError(t, pw.Start())
	defer pw.Stop()

	assert.Equal(t, initial, pw.Current())

	writeWorkspaceFile(t, workspace, "profile.yaml", `
base_url: https://changed.example.com
base_host: changed.example.com
keywords: [fresh]
selectors:
  search_input: "#q"
  card: article.note
  detail_mask: .overlay
  detail_title: h1
  detail_body: div.body
`)

	require.Eventually(t, func() bool {
		return pw.Current().BaseHost == "changed.example.com"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestProfileWatcher_KeepsLastGoodOnParseError(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".nightshift"), 0o755))
	initial := DefaultProfile()

	pw, err := NewProfileWatcher(workspace, initial)
	require.NoError(t, err)
	require.NoError(t, pw.Start())
	defer pw.Stop()

	writeWorkspaceFile(t, workspace, "profile.yaml", "{not yaml: [")

	// Give the debounce a chance to fire, then confirm nothing changed.
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, initial.BaseHost, pw.Current().BaseHost)
}
