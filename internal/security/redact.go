// Package security provides helpers that keep credentials out of logs and
// untrusted names out of the filesystem.
package security

import (
	"net/url"
	"strings"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

const redacted = "[REDACTED]"

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts:
// - User credentials (user:pass@host)
// - Query parameters that look like secrets
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User(redacted)
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}

	return parsed.String()
}

// sensitiveParamPatterns are query parameter names that likely contain secrets
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"auth",
	"credential",
	"key",
	"session",
	"sid",
}

func redactQueryParams(params url.Values) url.Values {
	out := make(url.Values, len(params))

	for key, values := range params {
		keyLower := strings.ToLower(key)
		hit := false
		for _, pattern := range sensitiveParamPatterns {
			if strings.Contains(keyLower, pattern) {
				hit = true
				break
			}
		}

		if hit {
			out[key] = []string{redacted}
		} else {
			out[key] = values
		}
	}

	return out
}

// RedactProxy renders a proxy configuration as a URL with the password masked.
// The username stays visible so operators can tell accounts apart.
func RedactProxy(p types.ProxyConfig) string {
	if p.Host == "" {
		return ""
	}

	u := url.URL{Scheme: "http", Host: p.Addr()}
	switch {
	case p.Pass != "":
		u.User = url.UserPassword(p.User, redacted)
	case p.User != "":
		u.User = url.User(p.User)
	}

	return u.String()
}
