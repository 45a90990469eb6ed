// Package profile provides the browser fingerprint profile: launch user agent,
// Chromium switches, preferences and the values the stealth layer spoofs.
package profile

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultProfileFS embed.FS

// Stealth holds the values injected into every document.
type Stealth struct {
	UserAgent            string   `yaml:"user_agent"`
	Languages            []string `yaml:"languages"`
	Vendor               string   `yaml:"vendor"`
	Platform             string   `yaml:"platform"`
	WebGLVendor          string   `yaml:"webgl_vendor"`
	Renderer             string   `yaml:"renderer"`
	FixHairline          bool     `yaml:"fix_hairline"`
	RunOnInsecureOrigins bool     `yaml:"run_on_insecure_origins"`
}

// Profile is a complete browser fingerprint.
type Profile struct {
	UserAgent   string                 `yaml:"user_agent"`
	WindowSize  string                 `yaml:"window_size"`
	Flags       []string               `yaml:"flags"`
	Preferences map[string]interface{} `yaml:"preferences"`
	Stealth     Stealth                `yaml:"stealth"`
}

// Flag is a parsed Chromium switch.
type Flag struct {
	Name  string
	Value string // empty for boolean switches
}

// reservedFlags are owned by the launcher and cannot be set by a profile.
var reservedFlags = map[string]bool{
	"load-extension":            true,
	"disable-extensions-except": true,
	"disable-extensions":        true,
	"user-agent":                true,
	"remote-debugging-port":     true,
	"user-data-dir":             true,
	"proxy-server":              true,
}

var (
	embedded     *Profile
	embeddedOnce sync.Once
)

// Default returns a copy of the embedded profile.
func Default() *Profile {
	embeddedOnce.Do(func() {
		p, err := Parse(nil)
		if err != nil {
			// The embedded file is part of the binary; failing here is a build defect.
			panic(fmt.Sprintf("embedded profile is invalid: %v", err))
		}
		embedded = p
		log.Debug().
			Int("flags", len(p.Flags)).
			Int("preferences", len(p.Preferences)).
			Msg("Embedded profile loaded")
	})
	return embedded.Clone()
}

// Parse decodes the embedded profile and then the override document over it.
// A nil or empty override yields the embedded profile.
func Parse(override []byte) (*Profile, error) {
	data, err := defaultProfileFS.ReadFile("default.yaml")
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid embedded YAML: %w", err)
	}

	if len(override) > 0 {
		if err := yaml.Unmarshal(override, &p); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the profile can drive a launch.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.UserAgent) == "" {
		return fmt.Errorf("profile user_agent must not be empty")
	}
	if strings.ContainsAny(p.UserAgent, "\r\n") || strings.ContainsAny(p.Stealth.UserAgent, "\r\n") {
		return fmt.Errorf("profile user agents must be a single line")
	}
	for _, raw := range p.Flags {
		f := ParseFlag(raw)
		if f.Name == "" {
			return fmt.Errorf("profile contains an empty flag")
		}
		if reservedFlags[f.Name] {
			return fmt.Errorf("flag %q is managed by the launcher and cannot be set in a profile", f.Name)
		}
	}
	for key := range p.Preferences {
		if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
			return fmt.Errorf("invalid preference key %q", key)
		}
	}
	return nil
}

// ParseFlag splits "--name=value" into its parts. Leading dashes are optional.
func ParseFlag(raw string) Flag {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	name, value, _ := strings.Cut(raw, "=")
	return Flag{Name: name, Value: value}
}

// ParsedFlags returns the profile's switches in declaration order.
func (p *Profile) ParsedFlags() []Flag {
	flags := make([]Flag, 0, len(p.Flags))
	for _, raw := range p.Flags {
		flags = append(flags, ParseFlag(raw))
	}
	return flags
}

// NestedPreferences expands dotted keys ("webrtc.ip_handling_policy") into
// nested maps, the layout Chromium expects in its Preferences file.
// When a key is both a value and a prefix, the longer path wins.
func (p *Profile) NestedPreferences() map[string]interface{} {
	keys := make([]string, 0, len(p.Preferences))
	for k := range p.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := make(map[string]interface{})
	for _, key := range keys {
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		last := parts[len(parts)-1]
		if _, isMap := node[last].(map[string]interface{}); isMap {
			continue
		}
		node[last] = p.Preferences[key]
	}
	return root
}

// StealthUserAgent returns the user agent the stealth layer should report,
// or "" when the launch user agent is kept.
func (p *Profile) StealthUserAgent() string {
	return strings.TrimSpace(p.Stealth.UserAgent)
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Flags = append([]string(nil), p.Flags...)
	c.Stealth.Languages = append([]string(nil), p.Stealth.Languages...)
	c.Preferences = make(map[string]interface{}, len(p.Preferences))
	for k, v := range p.Preferences {
		c.Preferences[k] = v
	}
	return &c
}
