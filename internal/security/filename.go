package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// maxFileNameLength keeps generated names well under common filesystem limits.
const maxFileNameLength = 200

// SanitizeJarName validates a caller-supplied cookie file name and returns it
// with a ".json" extension. Names that could escape the cookie directory are
// rejected.
func SanitizeJarName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", types.ErrInvalidCookieName)
	}

	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q contains a path separator or traversal sequence", types.ErrInvalidCookieName, name)
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: %q contains control characters", types.ErrInvalidCookieName, name)
		}
	}

	if !strings.EqualFold(filepath.Ext(name), ".json") {
		name += ".json"
	}

	if len(name) > maxFileNameLength {
		return "", fmt.Errorf("%w: name longer than %d bytes", types.ErrInvalidCookieName, maxFileNameLength)
	}

	return name, nil
}
