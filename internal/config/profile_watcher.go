package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nightshift/internal/logging"
)

// ProfileWatcher watches profile.yaml for changes and swaps in the new
// profile atomically. The interaction cycle reads through Current(), so
// an operator can retune drifted selectors without restarting the run.
type ProfileWatcher struct {
	mu        sync.RWMutex
	current   *Profile
	workspace string

	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewProfileWatcher creates a watcher seeded with the given profile.
func NewProfileWatcher(workspace string, initial *Profile) (*ProfileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ProfileWatcher{
		current:     initial,
		workspace:   workspace,
		watcher:     w,
		debounceDur: 500 * time.Millisecond, // coalesce editor save bursts
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Current returns the live profile.
func (pw *ProfileWatcher) Current() *Profile {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.current
}

// Start begins watching. Non-blocking; Stop to shut down.
func (pw *ProfileWatcher) Start() error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save.
	dir := filepath.Dir(ProfilePath(pw.workspace))
	if err := pw.watcher.Add(dir); err != nil {
		logging.Boot("profile watcher: cannot watch %s: %v (hot reload disabled)", dir, err)
	}

	go pw.loop()
	return nil
}

func (pw *ProfileWatcher) loop() {
	defer close(pw.doneCh)
	target := filepath.Base(ProfilePath(pw.workspace))
	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			now := time.Now()
			pw.mu.Lock()
			tooSoon := now.Sub(pw.lastEvent) < pw.debounceDur
			if !tooSoon {
				pw.lastEvent = now
			}
			pw.mu.Unlock()
			if tooSoon {
				continue
			}
			pw.reload()
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Boot("profile watcher error: %v", err)
		case <-pw.stopCh:
			return
		}
	}
}

func (pw *ProfileWatcher) reload() {
	p, err := LoadProfile(pw.workspace)
	if err != nil {
		// Keep the last good profile; a half-saved file must not take
		// down a running shift.
		logging.Boot("profile reload rejected: %v", err)
		return
	}
	pw.mu.Lock()
	pw.current = p
	pw.mu.Unlock()
	logging.Boot("profile reloaded: %d keywords", len(p.Keywords))
}

// Stop shuts the watcher down and waits for the loop to exit.
func (pw *ProfileWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()
	close(pw.stopCh)
	pw.watcher.Close()
	<-pw.doneCh
}
