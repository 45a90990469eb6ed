// Package browser provides the Chromium session the proxy extension runs in:
// extension packaging, launch, stealth patches and cookie access.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxybrowser-go/internal/profile"
	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// closeTimeout bounds how long Close waits for the browser to exit.
const closeTimeout = 10 * time.Second

// Binary lookups, replaceable in tests.
var (
	lookPath = launcher.LookPath
	download = func(ctx context.Context) (string, error) {
		b := launcher.NewBrowser()
		b.Context = ctx
		return b.Get()
	}
)

// LaunchOptions describes one browser session.
type LaunchOptions struct {
	BrowserPath       string // empty means look up, then download
	Headless          bool
	IgnoreCertErrors  bool
	ExtensionDir      string // unpacked proxy extension
	NavigationTimeout time.Duration
	Profile           *profile.Profile
}

// Session is a running browser with one stealth page.
type Session struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration

	mu             sync.Mutex // protects removeOverride
	removeOverride func() error
	closeOnce      sync.Once
	closeErr       error
}

// ResolveBrowser returns the Chromium binary to start: the configured path,
// else a local installation, else rod's managed download.
func ResolveBrowser(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		if strings.Contains(strings.ToLower(filepath.Base(configured)), "chromedriver") {
			// CDP talks to the browser directly; a WebDriver binary cannot be launched.
			log.Warn().
				Str("path", configured).
				Msg("Configured path points to chromedriver, looking up a browser instead")
		} else {
			if _, err := os.Stat(configured); err != nil {
				return "", fmt.Errorf("%w: browser binary %s: %v", types.ErrBrowserLaunch, configured, err)
			}
			return configured, nil
		}
	}

	if path, has := lookPath(); has {
		log.Debug().Str("path", path).Msg("Using local browser")
		return path, nil
	}

	log.Info().Msg("No local browser found, downloading Chromium")
	path, err := download(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: download: %v", types.ErrBrowserLaunch, err)
	}
	return path, nil
}

// NewLauncher composes the launch flags for opts.
// Each call creates a fresh launcher since launchers can only be used once.
func NewLauncher(opts LaunchOptions) (*launcher.Launcher, error) {
	p := opts.Profile
	if p == nil {
		p = profile.Default()
	}

	l := launcher.New()

	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}

	// Rod enables headless by default; extensions only load in a headed
	// browser or the new headless mode.
	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Delete("enable-automation")
	l = l.Delete("disable-extensions")

	l = l.Set("user-agent", p.UserAgent)
	if p.WindowSize != "" {
		l = l.Set("window-size", p.WindowSize)
	}
	if len(p.Stealth.Languages) > 0 {
		l = l.Set("accept-lang", strings.Join(p.Stealth.Languages, ","))
	}

	for _, f := range p.ParsedFlags() {
		if f.Value == "" {
			l = l.Set(flags.Flag(f.Name))
		} else {
			l = l.Set(flags.Flag(f.Name), f.Value)
		}
	}

	if opts.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	if opts.ExtensionDir != "" {
		dir, err := filepath.Abs(opts.ExtensionDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extension directory: %w", err)
		}
		l = l.Set("load-extension", dir).
			Set("disable-extensions-except", dir)
	}

	prefs, err := PreferencesJSON(p)
	if err != nil {
		return nil, err
	}
	l = l.Preferences(prefs)

	return l, nil
}

// PreferencesJSON renders the profile preferences as a Chromium Preferences document.
func PreferencesJSON(p *profile.Profile) (string, error) {
	data, err := json.Marshal(p.NestedPreferences())
	if err != nil {
		return "", fmt.Errorf("failed to marshal browser preferences: %w", err)
	}
	return string(data), nil
}

// Launch starts the browser and opens a stealth page.
// ctx bounds binary provisioning only: the browser outlives ctx so that
// teardown can still read cookies after an interrupt.
func Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bin, err := ResolveBrowser(ctx, opts.BrowserPath)
	if err != nil {
		return nil, err
	}
	opts.BrowserPath = bin

	l, err := NewLauncher(opts)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("bin", bin).
		Bool("headless", opts.Headless).
		Str("extension", opts.ExtensionDir).
		Msg("Launching browser")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserConnect, err)
	}

	// Only ignore certificate errors if explicitly configured (security risk)
	if opts.IgnoreCertErrors {
		log.Warn().Msg("Certificate validation disabled - MITM attacks possible")
		if err := browser.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	page, err := stealth.Page(browser)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create stealth page, falling back to a plain page")
		page, err = browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			_ = browser.Close()
			l.Kill()
			l.Cleanup()
			return nil, fmt.Errorf("%w: %v", types.ErrPageNotReady, err)
		}
	}

	navTimeout := opts.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = time.Minute
	}

	log.Info().Str("control_url", controlURL).Msg("Browser started")

	return &Session{
		launcher:   l,
		browser:    browser,
		page:       page,
		navTimeout: navTimeout,
	}, nil
}

// GetCookies returns every cookie in the browser.
func (s *Session) GetCookies() ([]*proto.NetworkCookie, error) {
	return s.browser.GetCookies()
}

// SetCookies injects cookies into the browser.
func (s *Session) SetCookies(cookies []*proto.NetworkCookieParam) error {
	return s.browser.SetCookies(cookies)
}

// Navigate opens url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.navTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

// Reload reloads the current page so injected cookies take effect.
func (s *Session) Reload(ctx context.Context) error {
	page := s.page.Context(ctx).Timeout(s.navTimeout)
	defer page.CancelTimeout()

	if err := page.Reload(); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

// Close shuts the browser down and removes its temporary profile.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- s.browser.Close()
		}()

		select {
		case err := <-done:
			if err != nil {
				log.Warn().Err(err).Msg("Error closing browser, killing process")
				s.launcher.Kill()
				s.closeErr = err
			}
		case <-time.After(closeTimeout):
			log.Warn().Dur("timeout", closeTimeout).Msg("Browser close timed out, killing process")
			s.launcher.Kill()
			s.closeErr = fmt.Errorf("browser close timed out after %s", closeTimeout)
		}

		s.launcher.Cleanup()
		log.Info().Msg("Browser closed")
	})
	return s.closeErr
}
