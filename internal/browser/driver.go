// Package browser implements the environment driver on a real Chrome
// instance via go-rod: the navigate/locate/click/extract/scroll/wait
// capability set, human-paced input, baseline reset, and diagnostic
// state capture.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"nightshift/internal/config"
	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// ProfileSource yields the live profile; satisfied by
// config.ProfileWatcher so selector retunes reach the driver mid-run.
type ProfileSource interface {
	Current() *config.Profile
}

// staticProfile adapts a fixed profile to ProfileSource (tests, one-shot
// commands).
type staticProfile struct{ p *config.Profile }

func (s staticProfile) Current() *config.Profile { return s.p }

// StaticProfile wraps a fixed profile as a ProfileSource.
func StaticProfile(p *config.Profile) ProfileSource { return staticProfile{p} }

// Driver drives one page of a Chrome session. It implements
// types.Driver.
type Driver struct {
	session  *Session
	page     *rod.Page
	profiles ProfileSource
	rng      *rand.Rand

	originRe     *regexp.Regexp
	originSource string
}

// NewDriver binds a driver to the session's page.
func NewDriver(session *Session, profiles ProfileSource, rng *rand.Rand) *Driver {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Driver{
		session:  session,
		page:     session.Page(),
		profiles: profiles,
		rng:      rng,
	}
}

// element wraps a rod element together with its extracted origin id.
type element struct {
	el     *rod.Element
	origin string
}

func (e *element) Origin() string { return e.origin }

func (d *Driver) profile() *config.Profile { return d.profiles.Current() }

func (d *Driver) originRegexp() *regexp.Regexp {
	pattern := d.profile().OriginPattern
	if pattern == "" {
		return nil
	}
	if d.originRe == nil || d.originSource != pattern {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logging.BrowserWarn("bad origin pattern %q: %v", pattern, err)
			return nil
		}
		d.originRe = re
		d.originSource = pattern
	}
	return d.originRe
}

// Navigate issues a fresh query: focus the search input, clear it, type
// the query with human pacing, submit, and let results settle.
func (d *Driver) Navigate(ctx context.Context, query string) error {
	logging.Browser("navigate: %q", query)
	p := d.page.Context(ctx)

	sel := d.profile().Selectors.SearchInput
	el, err := p.Timeout(10 * time.Second).Element(sel)
	if err != nil {
		return fmt.Errorf("browser: search input %q: %w", sel, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: focus search input: %w", err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = p.Keyboard.Press(input.Backspace)
	}
	if err := d.insertHuman(p, query); err != nil {
		return fmt.Errorf("browser: type query: %w", err)
	}
	if err := p.Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("browser: submit query: %w", err)
	}
	d.settle(ctx, 2, 4)
	return nil
}

// Open loads a URL directly. Navigate drives the search flow; this is
// for surfaces that only a raw page load reaches.
func (d *Driver) Open(ctx context.Context, url string) error {
	logging.Browser("open: %s", url)
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: open %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: open %s: wait load: %w", url, err)
	}
	d.settle(ctx, 1, 2)
	return nil
}

// Locate returns the currently visible matches for a descriptor.
// No match is not an error; the caller decides what absence means.
func (d *Driver) Locate(ctx context.Context, descriptor string) ([]types.Element, error) {
	p := d.page.Context(ctx)
	els, err := p.Elements(descriptor)
	if err != nil {
		return nil, fmt.Errorf("browser: locate %q: %w", descriptor, err)
	}
	re := d.originRegexp()
	out := make([]types.Element, 0, len(els))
	for _, el := range els {
		if vis, err := el.Visible(); err != nil || !vis {
			continue
		}
		out = append(out, &element{el: el, origin: extractOrigin(re, el)})
	}
	logging.BrowserDebug("locate %q: %d visible", descriptor, len(out))
	return out, nil
}

func extractOrigin(re *regexp.Regexp, el *rod.Element) string {
	if re == nil {
		return ""
	}
	href, err := el.Attribute("href")
	if err != nil || href == nil {
		return ""
	}
	if m := re.FindStringSubmatch(*href); len(m) > 1 {
		return m[1]
	}
	return ""
}

// Click scrolls the element into view and clicks it.
func (d *Driver) Click(ctx context.Context, target types.Element) error {
	el, ok := target.(*element)
	if !ok {
		return fmt.Errorf("browser: foreign element handle %T", target)
	}
	if err := el.el.Context(ctx).ScrollIntoView(); err != nil {
		return fmt.Errorf("browser: scroll into view: %w", err)
	}
	d.pause(300, 600)
	if err := el.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}

// Extract reads the element's visible text and any media references
// (image sources) under it.
func (d *Driver) Extract(ctx context.Context, target types.Element) (types.Content, error) {
	el, ok := target.(*element)
	if !ok {
		return types.Content{}, fmt.Errorf("browser: foreign element handle %T", target)
	}
	text, err := el.el.Context(ctx).Text()
	if err != nil {
		return types.Content{}, fmt.Errorf("browser: extract text: %w", err)
	}
	content := types.Content{Text: text}
	if imgs, err := el.el.Context(ctx).Elements("img"); err == nil {
		for _, img := range imgs {
			if src, err := img.Attribute("src"); err == nil && src != nil && *src != "" {
				content.MediaRefs = append(content.MediaRefs, *src)
			}
		}
	}
	return content, nil
}

// Scroll scrolls down by amount pixels in a few uneven steps, the way a
// person flicks a wheel, not one mechanical jump.
func (d *Driver) Scroll(ctx context.Context, amount int) error {
	p := d.page.Context(ctx)
	remaining := float64(amount)
	for remaining > 0 {
		step := remaining
		if chunk := 120 + d.rng.Float64()*180; chunk < step {
			step = chunk
		}
		if err := p.Mouse.Scroll(0, step, 1); err != nil {
			return fmt.Errorf("browser: scroll: %w", err)
		}
		remaining -= step
		d.pause(60, 180)
	}
	return nil
}

// WaitFor blocks until the descriptor matches a visible element or the
// timeout elapses.
func (d *Driver) WaitFor(ctx context.Context, descriptor string, timeout time.Duration) error {
	p := d.page.Context(ctx).Timeout(timeout)
	el, err := p.Element(descriptor)
	if err != nil {
		return fmt.Errorf("browser: wait for %q: %w", descriptor, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("browser: wait visible %q: %w", descriptor, err)
	}
	return nil
}

// Type activates the descriptor and enters text with human pacing.
func (d *Driver) Type(ctx context.Context, descriptor, text string) error {
	p := d.page.Context(ctx)
	el, err := p.Timeout(5 * time.Second).Element(descriptor)
	if err != nil {
		return fmt.Errorf("browser: type target %q: %w", descriptor, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: activate %q: %w", descriptor, err)
	}
	d.pause(400, 900)
	if err := d.insertHuman(p, text); err != nil {
		return fmt.Errorf("browser: type into %q: %w", descriptor, err)
	}
	return nil
}

// insertHuman types text rune by rune with randomized delay.
func (d *Driver) insertHuman(p *rod.Page, text string) error {
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return err
		}
		d.pause(50, 150)
	}
	return nil
}

// Dismiss sends a generic escape to close whatever overlay is in front.
func (d *Driver) Dismiss(ctx context.Context) error {
	if err := d.page.Context(ctx).Keyboard.Press(input.Escape); err != nil {
		return fmt.Errorf("browser: dismiss: %w", err)
	}
	return nil
}

// Location reports the page's current URL.
func (d *Driver) Location() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Reset returns the environment to its baseline: reload, wait for the
// load to finish, and navigate home if the page drifted off-site.
func (d *Driver) Reset(ctx context.Context) error {
	logging.Browser("reset to baseline")
	p := d.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	d.settle(ctx, 2, 3)

	profile := d.profile()
	if !hostMatches(d.Location(), profile.BaseHost) {
		if err := p.Navigate(profile.BaseURL); err != nil {
			return fmt.Errorf("browser: navigate home: %w", err)
		}
		if err := p.WaitLoad(); err != nil {
			return fmt.Errorf("browser: wait home load: %w", err)
		}
		d.settle(ctx, 1, 2)
	}
	return nil
}

// CaptureState snapshots the page: URL, cleaned DOM, screenshot.
func (d *Driver) CaptureState(ctx context.Context) (types.EnvironmentState, error) {
	p := d.page.Context(ctx)
	state := types.EnvironmentState{
		URL:        d.Location(),
		CapturedAt: time.Now(),
	}
	if html, err := p.HTML(); err == nil {
		state.DOM = CleanDOM(html, 6000)
	}
	shot, err := p.Screenshot(false, nil)
	if err != nil {
		// A snapshot without pixels is still a snapshot.
		logging.BrowserWarn("screenshot failed: %v", err)
		return state, nil
	}
	state.Screenshot = shot
	return state, nil
}

// pause sleeps a uniform random duration in [minMs, maxMs] milliseconds.
func (d *Driver) pause(minMs, maxMs int) {
	ms := minMs + d.rng.Intn(maxMs-minMs+1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// settle sleeps a uniform random duration in [minSec, maxSec] seconds,
// honoring context cancellation.
func (d *Driver) settle(ctx context.Context, minSec, maxSec float64) {
	dur := time.Duration((minSec + d.rng.Float64()*(maxSec-minSec)) * float64(time.Second))
	select {
	case <-time.After(dur):
	case <-ctx.Done():
	}
}
