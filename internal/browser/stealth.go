package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/proxybrowser-go/internal/profile"
)

// WebGL debug extension constants (UNMASKED_VENDOR_WEBGL, UNMASKED_RENDERER_WEBGL).
const (
	glUnmaskedVendor   = 37445
	glUnmaskedRenderer = 37446
)

// overrideParams is passed to overrideScript as its single argument.
type overrideParams struct {
	Languages            []string `json:"languages"`
	Vendor               string   `json:"vendor"`
	Platform             string   `json:"platform"`
	WebGLVendor          string   `json:"webglVendor"`
	Renderer             string   `json:"renderer"`
	FixHairline          bool     `json:"fixHairline"`
	RunOnInsecureOrigins bool     `json:"runOnInsecureOrigins"`
	VendorParam          int      `json:"vendorParam"`
	RendererParam        int      `json:"rendererParam"`
}

// OverrideScript renders the spoof script for s as a self-invoking expression.
func OverrideScript(s profile.Stealth) string {
	params := overrideParams{
		Languages:            s.Languages,
		Vendor:               s.Vendor,
		Platform:             s.Platform,
		WebGLVendor:          s.WebGLVendor,
		Renderer:             s.Renderer,
		FixHairline:          s.FixHairline,
		RunOnInsecureOrigins: s.RunOnInsecureOrigins,
		VendorParam:          glUnmaskedVendor,
		RendererParam:        glUnmaskedRenderer,
	}
	if params.Languages == nil {
		params.Languages = []string{}
	}
	return "(" + overrideScript + ")(" + gson.New(params).JSON("", "") + ");"
}

// ApplyStealth installs the profile's spoof values on the page.
// The script runs before every new document and once on the current one.
// Calling it again replaces the previously installed script.
func (s *Session) ApplyStealth(p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removeOverride != nil {
		if err := s.removeOverride(); err != nil {
			log.Debug().Err(err).Msg("Failed to remove previous stealth override")
		}
		s.removeOverride = nil
	}

	script := OverrideScript(p.Stealth)

	remove, err := s.page.EvalOnNewDocument(script)
	if err != nil {
		return fmt.Errorf("failed to install stealth override: %w", err)
	}
	s.removeOverride = remove

	if _, err := s.page.Eval("() => " + strings.TrimSuffix(script, ";")); err != nil {
		// Common on about:blank pages where some APIs don't exist yet
		log.Debug().Err(err).Msg("Stealth override on current document had errors, continuing")
	}

	if ua := p.StealthUserAgent(); ua != "" {
		err := proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: strings.Join(p.Stealth.Languages, ","),
			Platform:       p.Stealth.Platform,
		}.Call(s.page)
		if err != nil {
			return fmt.Errorf("failed to override user agent: %w", err)
		}
	}

	log.Debug().
		Str("platform", p.Stealth.Platform).
		Strs("languages", p.Stealth.Languages).
		Bool("user_agent_override", p.StealthUserAgent() != "").
		Msg("Stealth overrides applied")

	return nil
}

// overrideScript receives overrideParams. Each patch is isolated so one
// missing API does not block the rest.
const overrideScript = `function (p) {
    'use strict';

    const define = (obj, prop, value) => {
        try {
            Object.defineProperty(obj, prop, {
                get: () => value,
                configurable: true
            });
        } catch (e) {}
    };

    // Navigator identity
    if (p.languages.length > 0) {
        const langs = Object.freeze(p.languages.slice());
        define(Object.getPrototypeOf(navigator), 'languages', langs);
        define(Object.getPrototypeOf(navigator), 'language', langs[0]);
    }
    if (p.vendor) {
        define(Object.getPrototypeOf(navigator), 'vendor', p.vendor);
    }
    if (p.platform) {
        define(Object.getPrototypeOf(navigator), 'platform', p.platform);
    }

    // WebGL vendor and renderer
    const patchWebGL = (proto) => {
        if (!proto || !proto.getParameter) {
            return;
        }
        const getParameter = proto.getParameter;
        proto.getParameter = function (param) {
            if (param === p.vendorParam && p.webglVendor) {
                return p.webglVendor;
            }
            if (param === p.rendererParam && p.renderer) {
                return p.renderer;
            }
            return getParameter.apply(this, arguments);
        };
    };
    try {
        patchWebGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
        patchWebGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
    } catch (e) {}

    // Hairline feature detection reads offsetHeight of a probe div.
    if (p.fixHairline) {
        try {
            const desc = Object.getOwnPropertyDescriptor(HTMLElement.prototype, 'offsetHeight');
            Object.defineProperty(HTMLDivElement.prototype, 'offsetHeight', {
                get: function () {
                    if (this.id === 'modernizr') {
                        return 1;
                    }
                    return desc.get.call(this);
                },
                configurable: true
            });
        } catch (e) {}
    }

    // chrome.runtime only exists on secure origins unless asked otherwise.
    try {
        if (!window.chrome) {
            Object.defineProperty(window, 'chrome', {
                value: {},
                writable: true,
                configurable: true
            });
        }
        const secure = location.protocol === 'https:';
        if (!window.chrome.runtime && (secure || p.runOnInsecureOrigins)) {
            window.chrome.runtime = {
                OnInstalledReason: {},
                OnRestartRequiredReason: {},
                PlatformArch: {},
                PlatformOs: {},
                RequestUpdateCheckStatus: {},
                connect: function () {},
                sendMessage: function () {}
            };
        }
    } catch (e) {}
}`
