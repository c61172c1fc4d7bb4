// Package config loads nightshift configuration from
// .nightshift/config.yaml plus environment overrides, and the
// operator-editable profile (selectors, keywords, publish hours) from
// .nightshift/profile.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nightshift configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Browser   BrowserConfig   `yaml:"browser"`
	Session   SessionConfig   `yaml:"session"`
	Cycle     CycleConfig     `yaml:"cycle"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the reasoning service.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// BrowserConfig configures the environment driver.
type BrowserConfig struct {
	DebuggerURL         string `yaml:"debugger_url"` // attach to a running browser when set
	Headless            bool   `yaml:"headless"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// NavigationTimeout returns the navigation timeout.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SessionConfig configures the supervisor's operation session.
type SessionConfig struct {
	TimeBudget        string  `yaml:"time_budget"`        // e.g. "24h"
	CreationCooldown  string  `yaml:"creation_cooldown"`  // e.g. "1h"
	CreationThreshold int     `yaml:"creation_threshold"` // high-quality unused entries needed
	RestMinSeconds    float64 `yaml:"rest_min_seconds"`   // jitter sleep between cycles
	RestMaxSeconds    float64 `yaml:"rest_max_seconds"`
}

// CycleConfig tunes the interaction cycle's probability funnel.
type CycleConfig struct {
	// Rotation interval N is randomized once per run in [Min,Max].
	RotateEveryMin int `yaml:"rotate_every_min"`
	RotateEveryMax int `yaml:"rotate_every_max"`

	// First probability gate: deep (reasoning) vs shallow engagement.
	ProbDeepEngage float64 `yaml:"prob_deep_engage"`

	// Shallow engagement gates (independent, deliberately lower).
	ProbShallowLike float64 `yaml:"prob_shallow_like"`
	ProbShallowSave float64 `yaml:"prob_shallow_save"`

	// Deep engagement gates.
	ProbLike        float64 `yaml:"prob_like"`
	ProbSave        float64 `yaml:"prob_save"`
	ProbPostComment float64 `yaml:"prob_post_comment"`

	// How many leading candidates the uniform pick draws from.
	CandidateWindow int `yaml:"candidate_window"`

	// Detail-view open timeout.
	OpenTimeoutMs int `yaml:"open_timeout_ms"`
}

// OpenTimeout returns the detail-view open timeout.
func (c CycleConfig) OpenTimeout() time.Duration {
	if c.OpenTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.OpenTimeoutMs) * time.Millisecond
}

// KnowledgeConfig configures the knowledge store.
type KnowledgeConfig struct {
	Path          string `yaml:"path"`           // backing file, default .nightshift/inspiration.json
	BufferSize    int    `yaml:"buffer_size"`    // flush when buffered >= this
	FlushInterval string `yaml:"flush_interval"` // or when this much time passed since last flush
}

// RecoveryConfig tunes the repair synthesizer.
type RecoveryConfig struct {
	PlanTimeout  string `yaml:"plan_timeout"`   // bound on one synthesized plan execution
	MaxPlanSteps int    `yaml:"max_plan_steps"` // reject longer plans outright
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "2m",
		},
		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
		},
		Session: SessionConfig{
			TimeBudget:        "24h",
			CreationCooldown:  "1h",
			CreationThreshold: 3,
			RestMinSeconds:    2,
			RestMaxSeconds:    5,
		},
		Cycle: CycleConfig{
			RotateEveryMin:  4,
			RotateEveryMax:  7,
			ProbDeepEngage:  0.4,
			ProbShallowLike: 0.2,
			ProbShallowSave: 0.1,
			ProbLike:        0.4,
			ProbSave:        0.2,
			ProbPostComment: 0.7,
			CandidateWindow: 4,
			OpenTimeoutMs:   5000,
		},
		Knowledge: KnowledgeConfig{
			BufferSize:    5,
			FlushInterval: "10m",
		},
		Recovery: RecoveryConfig{
			PlanTimeout:  "45s",
			MaxPlanSteps: 12,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .nightshift/config.yaml under the workspace, falling back
// to defaults when the file does not exist, then applies env overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".nightshift", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables take precedence over the
// file for secrets that should not live on disk.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	if _, err := c.TimeBudget(); err != nil {
		return fmt.Errorf("session.time_budget: %w", err)
	}
	if _, err := c.CreationCooldown(); err != nil {
		return fmt.Errorf("session.creation_cooldown: %w", err)
	}
	if _, err := c.FlushInterval(); err != nil {
		return fmt.Errorf("knowledge.flush_interval: %w", err)
	}
	if _, err := c.PlanTimeout(); err != nil {
		return fmt.Errorf("recovery.plan_timeout: %w", err)
	}
	if c.Session.CreationThreshold < 1 {
		return fmt.Errorf("session.creation_threshold must be >= 1")
	}
	if c.Cycle.RotateEveryMin < 1 || c.Cycle.RotateEveryMax < c.Cycle.RotateEveryMin {
		return fmt.Errorf("cycle.rotate_every range invalid: [%d,%d]",
			c.Cycle.RotateEveryMin, c.Cycle.RotateEveryMax)
	}
	for name, p := range map[string]float64{
		"prob_deep_engage":  c.Cycle.ProbDeepEngage,
		"prob_shallow_like": c.Cycle.ProbShallowLike,
		"prob_shallow_save": c.Cycle.ProbShallowSave,
		"prob_like":         c.Cycle.ProbLike,
		"prob_save":         c.Cycle.ProbSave,
		"prob_post_comment": c.Cycle.ProbPostComment,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("cycle.%s must be in [0,1], got %v", name, p)
		}
	}
	if c.Session.RestMinSeconds < 0 || c.Session.RestMaxSeconds < c.Session.RestMinSeconds {
		return fmt.Errorf("session rest range invalid: [%v,%v]",
			c.Session.RestMinSeconds, c.Session.RestMaxSeconds)
	}
	if c.Knowledge.BufferSize < 1 {
		return fmt.Errorf("knowledge.buffer_size must be >= 1")
	}
	return nil
}

// TimeBudget parses the session time budget.
func (c *Config) TimeBudget() (time.Duration, error) {
	return parseDuration(c.Session.TimeBudget, 24*time.Hour)
}

// CreationCooldown parses the creation cooldown.
func (c *Config) CreationCooldown() (time.Duration, error) {
	return parseDuration(c.Session.CreationCooldown, time.Hour)
}

// FlushInterval parses the knowledge store flush interval.
func (c *Config) FlushInterval() (time.Duration, error) {
	return parseDuration(c.Knowledge.FlushInterval, 10*time.Minute)
}

// PlanTimeout parses the repair plan execution bound.
func (c *Config) PlanTimeout() (time.Duration, error) {
	return parseDuration(c.Recovery.PlanTimeout, 45*time.Second)
}

// LLMTimeout parses the reasoning call timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseDuration(c.LLM.Timeout, 2*time.Minute)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

// KnowledgePath returns the knowledge store backing file path.
func (c *Config) KnowledgePath(workspace string) string {
	if c.Knowledge.Path != "" {
		return c.Knowledge.Path
	}
	return filepath.Join(workspace, ".nightshift", "inspiration.json")
}
