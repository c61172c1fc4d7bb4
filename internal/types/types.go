// Package types holds the domain records shared across nightshift and the
// interfaces of the external collaborators (environment driver, reasoning
// service, production pipeline). It stays dependency-free so every other
// package can import it without cycles.
package types

import (
	"time"
)

// EntryStatus tracks whether a knowledge entry has been consumed by a
// production cycle. The transition is one-way: unused -> used.
type EntryStatus string

const (
	EntryUnused EntryStatus = "unused"
	EntryUsed   EntryStatus = "used"
)

// KnowledgeEntry is one piece of material collected during a deep
// engagement. Entries are created by the interaction cycle, consumed
// (status-transitioned) by the production pipeline, and never deleted.
type KnowledgeEntry struct {
	ID          string      `json:"id"`
	DedupKey    string      `json:"dedup_key"`
	Origin      string      `json:"origin,omitempty"` // stable content origin id, "" if unknown
	CollectedAt time.Time   `json:"collected_at"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	SourceURL   string      `json:"source_url,omitempty"`
	MediaRefs   []string    `json:"media_refs,omitempty"`
	Analysis    Analysis    `json:"analysis"`
	Status      EntryStatus `json:"status"`
	UsedAt      *time.Time  `json:"used_at,omitempty"`
}

// Key returns the dedup key, deriving the title fallback when no stable
// origin identifier was available.
func (e KnowledgeEntry) Key() string {
	if e.DedupKey != "" {
		return e.DedupKey
	}
	if e.Origin != "" {
		return e.Origin
	}
	return "title:" + e.Title
}

// Analysis is the reasoning service's verdict on a piece of content.
type Analysis struct {
	IsRelevant    bool   `json:"is_relevant"`
	IsHighQuality bool   `json:"is_high_quality"`
	ShouldComment bool   `json:"should_comment"`
	CommentText   string `json:"comment_text,omitempty"`
	StyleHint     string `json:"style_hint,omitempty"`
}

// DraftStatus tracks a draft through the production pipeline.
type DraftStatus string

const (
	DraftComposed  DraftStatus = "draft"
	DraftReady     DraftStatus = "ready"
	DraftPublished DraftStatus = "published"
)

// Draft is a composed piece of content awaiting publication.
type Draft struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Body          string      `json:"body"`
	Tags          []string    `json:"tags,omitempty"`
	ImagePrompt   string      `json:"image_prompt,omitempty"`
	SourceEntryID string      `json:"source_entry_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	PublishedAt   *time.Time  `json:"published_at,omitempty"`
	Status        DraftStatus `json:"status"`
}

// EnvironmentState is a diagnostic snapshot of the external environment,
// captured before a repair is attempted.
type EnvironmentState struct {
	URL        string    `json:"url"`
	DOM        string    `json:"dom"`        // cleaned, truncated markup
	Screenshot []byte    `json:"-"`          // PNG, persisted by the recorder
	CapturedAt time.Time `json:"captured_at"`
}

// Content is what Extract returns for an element: visible text plus any
// media references found under it.
type Content struct {
	Text      string
	MediaRefs []string
}
