// Package knowledge implements the append-only, deduplicated store of
// material collected during consumption cycles.
//
// Entries accumulate in an in-memory buffer and are flushed to a single
// JSON file, rewritten wholesale, when the buffer reaches a size
// threshold or a time interval elapses. Buffered entries are visible to
// all queries immediately so the creation trigger stays responsive.
//
// The store is mutated only by the single loop goroutine; it carries no
// locking on purpose.
package knowledge

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// Store is the knowledge store over one backing file.
type Store struct {
	path string

	// entries holds everything known, persisted entries first, buffered
	// (not yet flushed) entries at the tail.
	entries []types.KnowledgeEntry
	keys    map[string]int // dedup key -> index into entries
	pending int            // count of buffered entries at the tail

	bufferSize    int
	flushInterval time.Duration
	lastFlush     time.Time

	now func() time.Time
	rng *rand.Rand
}

// Option tweaks a Store at construction.
type Option func(*Store)

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand injects the random source used for sampling.
func WithRand(rng *rand.Rand) Option {
	return func(s *Store) { s.rng = rng }
}

// Open loads (or creates) the store at path. A corrupt backing file is
// reset rather than treated as fatal: losing a damaged file beats
// aborting a multi-hour run.
func Open(path string, bufferSize int, flushInterval time.Duration, opts ...Option) (*Store, error) {
	if bufferSize < 1 {
		return nil, fmt.Errorf("knowledge: buffer size must be >= 1")
	}
	s := &Store{
		path:          path,
		keys:          make(map[string]int),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		now:           time.Now,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastFlush = s.now()

	if err := s.load(); err != nil {
		logging.KnowledgeWarn("backing file unreadable, resetting: %v", err)
		s.entries = nil
		s.keys = make(map[string]int)
		if err := s.writeFile(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []types.KnowledgeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.entries = entries
	for i, e := range entries {
		s.keys[e.Key()] = i
	}
	return nil
}

// Save adds one entry. A duplicate dedup key is a logged no-op, never
// an error. Returns true when the entry was actually added.
func (s *Store) Save(entry types.KnowledgeEntry) bool {
	key := entry.Key()
	if _, dup := s.keys[key]; dup {
		logging.Knowledge("duplicate entry skipped: %s", key)
		return false
	}

	if entry.CollectedAt.IsZero() {
		entry.CollectedAt = s.now()
	}
	if entry.Status == "" {
		entry.Status = types.EntryUnused
	}
	entry.DedupKey = key

	s.entries = append(s.entries, entry)
	s.keys[key] = len(s.entries) - 1
	s.pending++

	logging.Knowledge("buffered entry %q (buffer %d/%d)", truncate(entry.Title, 30), s.pending, s.bufferSize)

	if s.shouldFlush() {
		if err := s.flush(); err != nil {
			logging.KnowledgeWarn("flush failed, keeping buffer: %v", err)
		}
	}
	return true
}

func (s *Store) shouldFlush() bool {
	return s.pending >= s.bufferSize || s.now().Sub(s.lastFlush) > s.flushInterval
}

// flush rewrites the backing file wholesale and empties the buffer.
func (s *Store) flush() error {
	if s.pending == 0 {
		s.lastFlush = s.now()
		return nil
	}
	if err := s.writeFile(); err != nil {
		return err
	}
	logging.Knowledge("flushed %d entries to %s", s.pending, s.path)
	s.pending = 0
	s.lastFlush = s.now()
	return nil
}

func (s *Store) writeFile() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("knowledge: create dir: %w", err)
		}
	}
	entries := s.entries
	if entries == nil {
		entries = []types.KnowledgeEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("knowledge: write %s: %w", s.path, err)
	}
	return nil
}

// ForceFlush writes any buffered entries out. Called once at shutdown.
func (s *Store) ForceFlush() error {
	return s.flush()
}

// UnusedCount counts unused entries, buffered ones included.
func (s *Store) UnusedCount() int {
	n := 0
	for i := range s.entries {
		if s.entries[i].Status == types.EntryUnused {
			n++
		}
	}
	return n
}

// HighQualityUnusedCount counts unused entries the reasoning service
// judged high quality, buffered ones included.
func (s *Store) HighQualityUnusedCount() int {
	n := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == types.EntryUnused && e.Analysis.IsHighQuality {
			n++
		}
	}
	return n
}

// SampleUnused returns up to k unused entries, uniformly without
// replacement.
func (s *Store) SampleUnused(k int) []types.KnowledgeEntry {
	var idx []int
	for i := range s.entries {
		if s.entries[i].Status == types.EntryUnused {
			idx = append(idx, i)
		}
	}
	return s.sample(idx, k)
}

// SampleHighQualityUnused is SampleUnused restricted to high-quality
// entries; production material comes from here.
func (s *Store) SampleHighQualityUnused(k int) []types.KnowledgeEntry {
	var idx []int
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == types.EntryUnused && e.Analysis.IsHighQuality {
			idx = append(idx, i)
		}
	}
	return s.sample(idx, k)
}

func (s *Store) sample(idx []int, k int) []types.KnowledgeEntry {
	if k > len(idx) {
		k = len(idx)
	}
	s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	out := make([]types.KnowledgeEntry, 0, k)
	for _, i := range idx[:k] {
		out = append(out, s.entries[i])
	}
	return out
}

// MarkUsed transitions one entry unused -> used. The transition is
// monotonic: marking an already-used entry is a no-op.
func (s *Store) MarkUsed(id string) error {
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		s.markIndexUsed(i)
		return s.persistAll()
	}
	return fmt.Errorf("knowledge: no entry with id %s", id)
}

// MarkManyUsed samples up to k high-quality unused entries, marks them
// used, and returns their ids. Called when a production cycle fires, to
// keep the backlog from growing without bound.
func (s *Store) MarkManyUsed(k int) ([]string, error) {
	var idx []int
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == types.EntryUnused && e.Analysis.IsHighQuality {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, nil
	}
	if k > len(idx) {
		k = len(idx)
	}
	s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	ids := make([]string, 0, k)
	for _, i := range idx[:k] {
		s.markIndexUsed(i)
		ids = append(ids, s.entries[i].ID)
	}
	if err := s.persistAll(); err != nil {
		return ids, err
	}
	logging.Knowledge("marked %d entries used", len(ids))
	return ids, nil
}

func (s *Store) markIndexUsed(i int) {
	if s.entries[i].Status == types.EntryUsed {
		return
	}
	s.entries[i].Status = types.EntryUsed
	t := s.now()
	s.entries[i].UsedAt = &t
}

// persistAll writes the whole state (buffered tail included) so a
// status transition is never lost; this doubles as a flush.
func (s *Store) persistAll() error {
	if err := s.writeFile(); err != nil {
		return err
	}
	s.pending = 0
	s.lastFlush = s.now()
	return nil
}

// Stats summarizes the store for operators.
type Stats struct {
	Total             int `json:"total"`
	Unused            int `json:"unused"`
	Used              int `json:"used"`
	HighQualityUnused int `json:"high_quality_unused"`
	Buffered          int `json:"buffered"`
}

// Summarize returns current store statistics.
func (s *Store) Summarize() Stats {
	st := Stats{Total: len(s.entries), Buffered: s.pending}
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == types.EntryUnused {
			st.Unused++
			if e.Analysis.IsHighQuality {
				st.HighQualityUnused++
			}
		} else {
			st.Used++
		}
	}
	return st
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
