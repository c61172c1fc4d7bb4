package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Profile is the operator-editable description of the target
// environment: where it lives, what to search for, and how to find
// things on it. It lives in its own file because selectors drift with
// the site's layout and get retuned while a run is in progress.
type Profile struct {
	// BaseURL is the environment's baseline location; deep recovery
	// returns here. BaseHost is the hostname the drift self-check
	// expects to stay on.
	BaseURL  string `yaml:"base_url"`
	BaseHost string `yaml:"base_host"`

	// Keywords is the rotation pool for context rotation.
	Keywords []string `yaml:"keywords"`

	// OriginPattern is a regexp with one capture group that extracts a
	// stable content origin identifier from a candidate's link, used
	// for dedup. Title equality is the fallback when it never matches.
	OriginPattern string `yaml:"origin_pattern"`

	// PublishHours are the hours (0-23) at which a ready draft may
	// actually be published; outside them it stays ready.
	PublishHours []int `yaml:"publish_hours"`

	Selectors Selectors `yaml:"selectors"`
}

// Selectors maps the interaction cycle's needs onto descriptor strings.
// List-valued entries are fallbacks, tried in order.
type Selectors struct {
	SearchInput string `yaml:"search_input"`
	Card        string `yaml:"card"`        // candidate content in the list view
	DetailMask  string `yaml:"detail_mask"` // appears when a detail view is open
	DetailTitle string `yaml:"detail_title"`
	DetailBody  string `yaml:"detail_body"`

	Like  []string `yaml:"like"`
	Save  []string `yaml:"save"`
	Close []string `yaml:"close"`

	CommentRestricted string   `yaml:"comment_restricted"` // visible when responding is not permitted
	CommentActivate   []string `yaml:"comment_activate"`
	CommentSubmit     []string `yaml:"comment_submit"`

	// Composer (production pipeline).
	ComposerURL     string `yaml:"composer_url"`
	ComposerTitle   string `yaml:"composer_title"`
	ComposerBody    string `yaml:"composer_body"`
	ComposerPublish string `yaml:"composer_publish"`
	ComposerSuccess string `yaml:"composer_success"`
}

// DefaultProfile returns a profile skeleton; a real deployment always
// ships its own profile.yaml.
func DefaultProfile() *Profile {
	return &Profile{
		BaseURL:       "https://example.com",
		BaseHost:      "example.com",
		Keywords:      []string{"ai tools"},
		OriginPattern: `/explore/([a-f0-9]+)`,
		Selectors: Selectors{
			SearchInput: "#search-input",
			Card:        "section.note-item",
			DetailMask:  ".note-detail-mask",
			DetailTitle: "#detail-title",
			DetailBody:  "#detail-desc",
			Like:        []string{"span.like-wrapper"},
			Save:        []string{"span.collect-wrapper"},
			Close:       []string{"div.close-circle", "div.close"},
		},
	}
}

// ProfilePath returns the profile file location under the workspace.
func ProfilePath(workspace string) string {
	return filepath.Join(workspace, ".nightshift", "profile.yaml")
}

// LoadProfile reads the profile, falling back to the skeleton default
// when the file does not exist.
func LoadProfile(workspace string) (*Profile, error) {
	path := ProfilePath(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(), nil
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects profiles the cycle cannot drive with.
func (p *Profile) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("profile: base_url required")
	}
	if p.BaseHost == "" {
		return fmt.Errorf("profile: base_host required")
	}
	if len(p.Keywords) == 0 {
		return fmt.Errorf("profile: at least one keyword required")
	}
	if p.OriginPattern != "" {
		if _, err := regexp.Compile(p.OriginPattern); err != nil {
			return fmt.Errorf("profile: origin_pattern: %w", err)
		}
	}
	for _, h := range p.PublishHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("profile: publish hour %d out of range", h)
		}
	}
	s := p.Selectors
	for name, v := range map[string]string{
		"search_input": s.SearchInput,
		"card":         s.Card,
		"detail_mask":  s.DetailMask,
		"detail_title": s.DetailTitle,
		"detail_body":  s.DetailBody,
	} {
		if v == "" {
			return fmt.Errorf("profile: selector %s required", name)
		}
	}
	return nil
}
