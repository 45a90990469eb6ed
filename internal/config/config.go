// Package config provides application configuration management.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// Configuration bounds.
const (
	minNavigationTimeout = time.Second
	maxNavigationTimeout = 10 * time.Minute
)

// Config holds all application configuration.
// It is built once at startup by Load and passed by value afterwards.
type Config struct {
	// Logging
	LogLevel string

	// Upstream proxy served by the generated extension
	ProxyHost string
	ProxyPort int
	ProxyUser string
	ProxyPass string

	// Target page opened after launch
	URL string

	// Browser settings
	BrowserPath       string // Chromium binary; empty means look up or download
	Headless          bool
	IgnoreCertErrors  bool
	NavigationTimeout time.Duration

	// On-disk caches
	CookiesPath     string
	ExtensionDir    string
	ManifestVersion int // 2 or 3

	// Fingerprint profile
	ProfilePath      string // External profile override; empty uses the embedded profile
	ProfileHotReload bool
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		LogLevel: "info",

		ProxyHost: "127.0.0.1",
		ProxyPort: 8080,
		ProxyUser: "user",
		ProxyPass: "passwd",

		URL: "https://browserleaks.com",

		BrowserPath:       "",
		Headless:          false,
		IgnoreCertErrors:  true,
		NavigationTimeout: 60 * time.Second,

		CookiesPath:     "./cookies/",
		ExtensionDir:    "proxy_auth_extension",
		ManifestVersion: 2,

		ProfilePath:      "",
		ProfileHotReload: false,
	}
}

// Proxy returns the proxy settings the extension is built from.
func (c Config) Proxy() types.ProxyConfig {
	return types.ProxyConfig{
		Host: c.ProxyHost,
		Port: c.ProxyPort,
		User: c.ProxyUser,
		Pass: c.ProxyPass,
	}
}

// LookupFunc resolves an environment key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// binding maps one Config field to the environment keys that set it.
// Keys are tried in order; the first non-empty value wins.
type binding struct {
	field string
	keys  []string
	set   func(c *Config, key, value string)
}

// bindings is the complete table of environment-driven settings.
var bindings = []binding{
	{"LogLevel", []string{"LOG_LEVEL"}, stringField(func(c *Config) *string { return &c.LogLevel })},

	{"ProxyHost", []string{"PROXY_HOST"}, stringField(func(c *Config) *string { return &c.ProxyHost })},
	{"ProxyPort", []string{"PROXY_PORT"}, intField(func(c *Config) *int { return &c.ProxyPort })},
	{"ProxyUser", []string{"PROXY_USER"}, stringField(func(c *Config) *string { return &c.ProxyUser })},
	{"ProxyPass", []string{"PROXY_PASS"}, stringField(func(c *Config) *string { return &c.ProxyPass })},

	{"URL", []string{"URL"}, stringField(func(c *Config) *string { return &c.URL })},

	{"BrowserPath", []string{"BROWSER_PATH", "CHROMEDRIVER_PATH"}, stringField(func(c *Config) *string { return &c.BrowserPath })},
	{"Headless", []string{"HEADLESS"}, boolField(func(c *Config) *bool { return &c.Headless })},
	{"IgnoreCertErrors", []string{"IGNORE_CERT_ERRORS"}, boolField(func(c *Config) *bool { return &c.IgnoreCertErrors })},
	{"NavigationTimeout", []string{"NAVIGATION_TIMEOUT"}, durationField(func(c *Config) *time.Duration { return &c.NavigationTimeout })},

	{"CookiesPath", []string{"COOKIES_PATH"}, stringField(func(c *Config) *string { return &c.CookiesPath })},
	{"ExtensionDir", []string{"EXTENSION_DIR"}, stringField(func(c *Config) *string { return &c.ExtensionDir })},
	{"ManifestVersion", []string{"EXTENSION_MANIFEST_VERSION"}, intField(func(c *Config) *int { return &c.ManifestVersion })},

	{"ProfilePath", []string{"PROFILE_PATH"}, stringField(func(c *Config) *string { return &c.ProfilePath })},
	{"ProfileHotReload", []string{"PROFILE_HOT_RELOAD"}, boolField(func(c *Config) *bool { return &c.ProfileHotReload })},
}

// Load builds a Config from defaults overlaid with values found through lookup.
// A nil lookup reads the process environment.
func Load(lookup LookupFunc) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	for _, b := range bindings {
		for _, key := range b.keys {
			// Empty values count as unset, matching shell "VAR=" semantics.
			if value, ok := lookup(key); ok && value != "" {
				log.Debug().Str("field", b.field).Str("key", key).Msg("Configuration value from environment")
				b.set(&cfg, key, value)
				break
			}
		}
	}
	return cfg
}

// Keys returns every environment key the configuration reads, in table order.
func Keys() []string {
	var keys []string
	for _, b := range bindings {
		keys = append(keys, b.keys...)
	}
	return keys
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults. Only problems that
// cannot be corrected are returned, wrapped in types.ErrInvalidConfig.
func (c *Config) Validate() error {
	def := Default()

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if !validLogLevels[c.LogLevel] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = def.LogLevel
	}

	if c.ProxyHost == "" {
		return wrapInvalid("PROXY_HOST is empty")
	}
	if strings.Contains(c.ProxyHost, "://") || strings.ContainsAny(c.ProxyHost, "/@ ") {
		return wrapInvalid("PROXY_HOST must be a bare host name or IP address")
	}
	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		log.Warn().Int("port", c.ProxyPort).Int("default", def.ProxyPort).Msg("Invalid proxy port, using default")
		c.ProxyPort = def.ProxyPort
	}
	if c.ProxyUser != "" && c.ProxyPass == "" {
		log.Warn().Msg("PROXY_USER set but PROXY_PASS is empty - authentication may fail")
	}
	if c.ProxyPass != "" && c.ProxyUser == "" {
		log.Warn().Msg("PROXY_PASS set but PROXY_USER is empty - authentication may fail")
	}

	parsed, err := url.Parse(c.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		log.Warn().Str("url", c.URL).Str("default", def.URL).Msg("URL must be an absolute http(s) URL, using default")
		c.URL = def.URL
	}

	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().
			Str("path", c.BrowserPath).
			Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	if c.NavigationTimeout < minNavigationTimeout {
		log.Warn().Dur("timeout", c.NavigationTimeout).Dur("min", minNavigationTimeout).Msg("Navigation timeout too short, using minimum")
		c.NavigationTimeout = minNavigationTimeout
	} else if c.NavigationTimeout > maxNavigationTimeout {
		log.Warn().Dur("timeout", c.NavigationTimeout).Dur("max", maxNavigationTimeout).Msg("Navigation timeout too long, using maximum")
		c.NavigationTimeout = maxNavigationTimeout
	}

	if c.ManifestVersion != 2 && c.ManifestVersion != 3 {
		log.Warn().Int("version", c.ManifestVersion).Msg("EXTENSION_MANIFEST_VERSION must be 2 or 3, using 2")
		c.ManifestVersion = def.ManifestVersion
	}

	if c.ExtensionDir == "" {
		c.ExtensionDir = def.ExtensionDir
	}
	if c.CookiesPath == "" {
		c.CookiesPath = def.CookiesPath
	}

	if c.Headless {
		log.Warn().Msg("HEADLESS enabled - the operator will not see the browser window")
	}
	if c.IgnoreCertErrors {
		log.Debug().Msg("IGNORE_CERT_ERRORS enabled for proxy compatibility")
	}

	if c.ProfileHotReload && c.ProfilePath == "" {
		log.Warn().Msg("PROFILE_HOT_RELOAD enabled but PROFILE_PATH not set - hot-reload disabled")
		c.ProfileHotReload = false
	}
	if c.ProfilePath != "" {
		if _, err := os.Stat(c.ProfilePath); os.IsNotExist(err) {
			log.Warn().Str("path", c.ProfilePath).Msg("PROFILE_PATH does not exist - using embedded profile until it appears")
		}
	}

	return nil
}

func wrapInvalid(msg string) error {
	return &invalidError{msg: msg}
}

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }
func (e *invalidError) Unwrap() error { return types.ErrInvalidConfig }

// Field setters used by the binding table. Parse failures log a warning and
// keep the current (default) value.

func stringField(ptr func(*Config) *string) func(*Config, string, string) {
	return func(c *Config, _ string, value string) {
		*ptr(c) = value
	}
}

func intField(ptr func(*Config) *int) func(*Config, string, string) {
	return func(c *Config, key, value string) {
		// Use ParseInt with explicit bounds to catch overflow
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			log.Warn().
				Str("key", key).
				Str("value", value).
				Err(err).
				Int("default", *ptr(c)).
				Msg("Invalid integer in environment variable, using default")
			return
		}
		*ptr(c) = int(n)
	}
}

func boolField(ptr func(*Config) *bool) func(*Config, string, string) {
	return func(c *Config, key, value string) {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			log.Warn().
				Str("key", key).
				Str("value", value).
				Err(err).
				Bool("default", *ptr(c)).
				Msg("Invalid boolean in environment variable, using default")
			return
		}
		*ptr(c) = b
	}
}

func durationField(ptr func(*Config) *time.Duration) func(*Config, string, string) {
	return func(c *Config, key, value string) {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			// Bare integers are accepted as seconds.
			if secs, convErr := strconv.Atoi(strings.TrimSpace(value)); convErr == nil {
				d, err = time.Duration(secs)*time.Second, nil
			}
		}
		if err != nil || d <= 0 {
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", *ptr(c)).
				Msg("Invalid duration in environment variable, using default")
			return
		}
		*ptr(c) = d
	}
}
