// Package runner drives one proxied browser session from configuration to
// teardown.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/Rorqualx/proxybrowser-go/internal/browser"
	"github.com/Rorqualx/proxybrowser-go/internal/config"
	"github.com/Rorqualx/proxybrowser-go/internal/cookies"
	"github.com/Rorqualx/proxybrowser-go/internal/profile"
	"github.com/Rorqualx/proxybrowser-go/internal/prompt"
	"github.com/Rorqualx/proxybrowser-go/internal/security"
	"github.com/Rorqualx/proxybrowser-go/internal/settings"
	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// Step names reported in types.StepError.
const (
	StepExtension = "extension"
	StepCookies   = "cookies"
	StepLaunch    = "launch"
)

// SettingsStore persists the proxy configuration the archive was built from.
type SettingsStore interface {
	Load() (*types.ProxyConfig, error)
	Save(cfg types.ProxyConfig) error
}

// ExtensionBuilder produces and unpacks the proxy extension archive.
type ExtensionBuilder interface {
	Build(cfg types.ProxyConfig, dir, archivePath string) error
	Unpack(archivePath, dir string) error
}

// CookieStore saves and restores cookie jars.
type CookieStore interface {
	Save(jar cookies.Jar, dir, name string) error
	LoadRandom(jar cookies.Jar, dir string) (cookies.LoadResult, error)
}

// Browser is a running browser session.
type Browser interface {
	cookies.Jar
	ApplyStealth(p *profile.Profile) error
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Close() error
}

// ProfileSource provides the fingerprint profile and reports reloads.
type ProfileSource interface {
	Get() *profile.Profile
	OnChange(fn func(*profile.Profile))
}

// LaunchFunc starts a browser.
type LaunchFunc func(ctx context.Context, opts browser.LaunchOptions) (Browser, error)

// WaitFunc blocks until the operator ends the session.
type WaitFunc func(ctx context.Context) error

// Deps are the collaborators of a Runner.
type Deps struct {
	Fs       afero.Fs
	Settings SettingsStore
	Builder  ExtensionBuilder
	Cookies  CookieStore
	Profiles ProfileSource
	Launch   LaunchFunc
	Wait     WaitFunc
}

// DefaultDeps wires the production collaborators for cfg.
func DefaultDeps(cfg config.Config, profiles ProfileSource, waiter *prompt.Waiter) Deps {
	fs := afero.NewOsFs()
	return Deps{
		Fs:       fs,
		Settings: settings.NewStore(fs, filepath.Join(cfg.ExtensionDir, settings.FileName)),
		Builder:  browser.NewExtensionBuilder(fs, cfg.ManifestVersion),
		Cookies:  cookies.NewStore(fs, cfg.URL),
		Profiles: profiles,
		Launch: func(ctx context.Context, opts browser.LaunchOptions) (Browser, error) {
			s, err := browser.Launch(ctx, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Wait: func(ctx context.Context) error {
			return waiter.Wait(ctx, prompt.DefaultMessage)
		},
	}
}

// Runner executes the session sequence.
type Runner struct {
	cfg  config.Config
	deps Deps
}

// New returns a runner for cfg.
func New(cfg config.Config, deps Deps) *Runner {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Runner{cfg: cfg, deps: deps}
}

// ArchivePath returns the location of the extension archive.
func (r *Runner) ArchivePath() string {
	return filepath.Join(r.cfg.ExtensionDir, browser.ArchiveFile)
}

// UnpackedDir returns the directory the browser loads the extension from.
func (r *Runner) UnpackedDir() string {
	return filepath.Join(r.cfg.ExtensionDir, browser.UnpackedDir)
}

// EnsureExtension rebuilds the extension archive when the proxy configuration
// differs from the stored record, when there is no record, when the archive
// is missing, or when force is set. It returns the archive path, or a
// StepError wrapping types.ErrExtensionMissing if no archive exists afterwards.
func (r *Runner) EnsureExtension(force bool) (string, error) {
	proxy := r.cfg.Proxy()
	archive := r.ArchivePath()

	log.Info().
		Str("proxy", security.RedactProxy(proxy)).
		Msg("Using proxy")

	stored, err := r.deps.Settings.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Stored proxy settings are unreadable, treating as absent")
		stored = nil
	}

	archiveExists, err := afero.Exists(r.deps.Fs, archive)
	if err != nil {
		log.Warn().Err(err).Str("archive", archive).Msg("Failed to check extension archive")
	}

	reason := ""
	switch {
	case force:
		reason = "forced rebuild"
	case stored == nil:
		reason = "no stored proxy settings"
	case !stored.Equal(proxy):
		reason = "proxy settings changed"
	case !archiveExists:
		reason = "extension archive missing"
	}

	if reason != "" {
		log.Info().Str("reason", reason).Msg("Creating or updating the proxy extension")
		if err := r.deps.Builder.Build(proxy, r.cfg.ExtensionDir, archive); err != nil {
			log.Error().Err(err).Msg("Failed to build proxy extension")
		} else if err := r.deps.Settings.Save(proxy); err != nil {
			log.Warn().Err(err).Msg("Failed to save proxy settings")
		}
	} else {
		log.Info().Msg("Proxy settings have not changed, using the existing extension")
	}

	if ok, _ := afero.Exists(r.deps.Fs, archive); !ok {
		return "", types.NewStepError(StepExtension, fmt.Errorf("%w: %s", types.ErrExtensionMissing, archive))
	}
	return archive, nil
}

// Run executes one session. saveCookie names the jar to write on exit; when
// empty a random saved jar is loaded after navigation instead.
// Only extension, launch and cookie-name failures are returned; every
// later step is logged and skipped.
func (r *Runner) Run(ctx context.Context, saveCookie string) error {
	if saveCookie != "" {
		if _, err := security.SanitizeJarName(saveCookie); err != nil {
			return types.NewStepError(StepCookies, err)
		}
	}

	archive, err := r.EnsureExtension(false)
	if err != nil {
		return err
	}

	unpacked := r.UnpackedDir()
	if err := r.deps.Builder.Unpack(archive, unpacked); err != nil {
		return types.NewStepError(StepExtension, err)
	}

	p := r.deps.Profiles.Get()
	opts := browser.LaunchOptions{
		BrowserPath:       r.cfg.BrowserPath,
		Headless:          r.cfg.Headless,
		IgnoreCertErrors:  r.cfg.IgnoreCertErrors,
		ExtensionDir:      unpacked,
		NavigationTimeout: r.cfg.NavigationTimeout,
		Profile:           p,
	}

	b, err := r.deps.Launch(ctx, opts)
	if err != nil {
		return types.NewStepError(StepLaunch, err)
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		r.teardown(b, saveCookie)
	}()

	if err := b.ApplyStealth(p); err != nil {
		log.Warn().Err(err).Msg("Failed to apply stealth overrides")
	}

	r.deps.Profiles.OnChange(func(next *profile.Profile) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if err := b.ApplyStealth(next); err != nil {
			log.Warn().Err(err).Msg("Failed to re-apply stealth overrides after profile reload")
			return
		}
		log.Info().Msg("Stealth overrides updated from profile")
	})

	if err := b.Navigate(ctx, r.cfg.URL); err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(r.cfg.URL)).Msg("Navigation failed")
	} else {
		log.Info().Str("url", security.RedactURL(r.cfg.URL)).Msg("Page loaded")
	}

	if saveCookie == "" {
		result, err := r.deps.Cookies.LoadRandom(b, r.cfg.CookiesPath)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load cookies")
		}
		if result.File != "" {
			log.Debug().Str("file", result.File).Int("cookies", result.Injected).Msg("Cookie jar selected")
		}
		if err := b.Reload(ctx); err != nil {
			log.Warn().Err(err).Msg("Reload failed")
		}
	}

	if err := r.deps.Wait(ctx); err != nil {
		if errors.Is(err, types.ErrOperatorAborted) {
			log.Info().Msg("Session interrupted")
		} else {
			log.Warn().Err(err).Msg("Operator prompt failed")
		}
	}

	return nil
}

// teardown saves cookies when requested and always closes the browser.
func (r *Runner) teardown(b Browser, saveCookie string) {
	if saveCookie != "" {
		if err := r.deps.Cookies.Save(b, r.cfg.CookiesPath, saveCookie); err != nil {
			log.Error().Err(err).Str("name", saveCookie).Msg("Failed to save cookies")
		}
	}
	if err := b.Close(); err != nil {
		log.Warn().Err(err).Msg("Browser close error")
	}
}
