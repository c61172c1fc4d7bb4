package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"nightshift/internal/config"
	"nightshift/internal/logging"
)

// Session owns the Chrome connection and the single page the driver
// works on. It either attaches to a running browser (debugger_url set)
// or launches its own.
type Session struct {
	cfg      config.BrowserConfig
	browser  *rod.Browser
	page     *rod.Page
	launched bool
}

// Connect starts the session and lands the page on baseURL.
func Connect(ctx context.Context, cfg config.BrowserConfig, baseURL string) (*Session, error) {
	s := &Session{cfg: cfg}

	controlURL := cfg.DebuggerURL
	if controlURL != "" {
		// Accept host:port as well as a full ws:// URL.
		if !strings.HasPrefix(controlURL, "ws") {
			resolved, err := launcher.ResolveURL(controlURL)
			if err != nil {
				return nil, fmt.Errorf("browser: resolve debugger url %q: %w", controlURL, err)
			}
			controlURL = resolved
		}
		logging.Browser("attaching to %s", cfg.DebuggerURL)
	} else {
		u, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch chrome: %w", err)
		}
		controlURL = u
		s.launched = true
		logging.Browser("launched chrome (headless=%v)", cfg.Headless)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = browser

	page, err := s.openPage(baseURL)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	s.page = page
	return s, nil
}

// openPage reuses an existing page already on the target host when
// attaching to a running browser, otherwise opens a fresh one.
func (s *Session) openPage(baseURL string) (*rod.Page, error) {
	if !s.launched {
		pages, err := s.browser.Pages()
		if err == nil {
			for _, p := range pages {
				info, err := p.Info()
				if err != nil {
					continue
				}
				if hostMatches(info.URL, mustHost(baseURL)) {
					logging.Browser("reusing open page %s", info.URL)
					return p, nil
				}
			}
		}
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: baseURL})
	if err != nil {
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: initial load: %w", err)
	}
	if s.cfg.ViewportWidth > 0 && s.cfg.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  s.cfg.ViewportWidth,
			Height: s.cfg.ViewportHeight,
		}); err != nil {
			logging.BrowserWarn("set viewport: %v", err)
		}
	}
	return page, nil
}

// Page returns the working page.
func (s *Session) Page() *rod.Page { return s.page }

// Healthy reports whether the browser connection still answers.
func (s *Session) Healthy() bool {
	if s.browser == nil {
		return false
	}
	_, err := s.browser.Version()
	return err == nil
}

// Close tears the session down. An attached browser belongs to the
// operator and keeps running; only one we launched ourselves is
// terminated with the session.
func (s *Session) Close() error {
	browser, page := s.browser, s.page
	s.browser = nil
	s.page = nil
	if browser == nil {
		return nil
	}
	if !s.launched {
		// Drop the connection only.
		return nil
	}
	if page != nil {
		_ = page.Close()
	}
	return browser.Close()
}

// hostMatches reports whether rawURL's hostname equals host or is a
// subdomain of it.
func hostMatches(rawURL, host string) bool {
	if host == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := u.Hostname()
	return h == host || strings.HasSuffix(h, "."+host)
}

func mustHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
