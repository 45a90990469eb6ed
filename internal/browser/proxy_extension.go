package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// Extension file and directory names.
const (
	ManifestFile   = "manifest.json"
	BackgroundFile = "background.js"
	ArchiveFile    = "proxy_auth_extension.zip"
	UnpackedDir    = "unpacked"
)

// maxEntrySize bounds a single archive entry when unpacking.
const maxEntrySize = 1 << 20

// archiveModTime is stamped on every archive entry so rebuilding the same
// configuration produces a byte-identical archive.
var archiveModTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ExtensionBuilder materializes the proxy authentication extension.
// Chrome has no command line switch for proxy credentials, so the extension
// configures a fixed proxy and answers auth challenges itself.
type ExtensionBuilder struct {
	fs              afero.Fs
	manifestVersion int
}

// NewExtensionBuilder returns a builder writing to fs. A nil fs uses the
// operating system filesystem. manifestVersion selects the MV2 (default)
// or MV3 layout.
func NewExtensionBuilder(fs afero.Fs, manifestVersion int) *ExtensionBuilder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if manifestVersion != 3 {
		manifestVersion = 2
	}
	return &ExtensionBuilder{fs: fs, manifestVersion: manifestVersion}
}

// Build writes manifest.json and background.js for cfg into dir and packages
// them into a zip at archivePath containing exactly those two entries.
// Security: files are created 0600 and the directory 0700 to protect credentials.
func (b *ExtensionBuilder) Build(cfg types.ProxyConfig, dir, archivePath string) error {
	if err := b.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create extension directory: %w", err)
	}

	manifest, err := b.Manifest()
	if err != nil {
		return err
	}
	script, err := b.BackgroundScript(cfg)
	if err != nil {
		return err
	}

	files := []struct {
		name string
		data []byte
	}{
		{ManifestFile, manifest},
		{BackgroundFile, script},
	}

	for _, f := range files {
		if err := afero.WriteFile(b.fs, filepath.Join(dir, f.name), f.data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: archiveModTime,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return fmt.Errorf("failed to compress %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	if err := b.fs.MkdirAll(filepath.Dir(archivePath), 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := afero.WriteFile(b.fs, archivePath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	log.Info().
		Str("archive", archivePath).
		Int("manifest_version", b.manifestVersion).
		Msg("Proxy extension created")

	return nil
}

// Unpack extracts the extension archive into dir, replacing any files of
// the same name. Only the manifest and background script are accepted.
func (b *ExtensionBuilder) Unpack(archivePath, dir string) error {
	f, err := b.fs.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrExtensionMissing, archivePath)
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrExtensionInvalid, err)
	}

	allowed := map[string]bool{ManifestFile: true, BackgroundFile: true}
	found := 0

	if err := b.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create unpack directory: %w", err)
	}

	for _, entry := range zr.File {
		if !allowed[entry.Name] {
			return fmt.Errorf("%w: unexpected entry %q", types.ErrExtensionInvalid, entry.Name)
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", types.ErrExtensionInvalid, entry.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", types.ErrExtensionInvalid, entry.Name, err)
		}
		if len(data) > maxEntrySize {
			return fmt.Errorf("%w: %s exceeds %d bytes", types.ErrExtensionInvalid, entry.Name, maxEntrySize)
		}

		if err := afero.WriteFile(b.fs, filepath.Join(dir, entry.Name), data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry.Name, err)
		}
		found++
	}

	if found != len(allowed) {
		return fmt.Errorf("%w: expected %d entries, found %d", types.ErrExtensionInvalid, len(allowed), found)
	}

	log.Debug().Str("archive", archivePath).Str("dir", dir).Msg("Proxy extension unpacked")
	return nil
}

// Manifest renders manifest.json.
func (b *ExtensionBuilder) Manifest() ([]byte, error) {
	var manifest map[string]interface{}

	if b.manifestVersion == 3 {
		manifest = map[string]interface{}{
			"version":          "1.0.0",
			"manifest_version": 3,
			"name":             "Proxy Auth Extension",
			"permissions": []string{
				"proxy",
				"tabs",
				"unlimitedStorage",
				"storage",
				"webRequest",
				"webRequestAuthProvider",
			},
			"host_permissions": []string{"<all_urls>"},
			"background": map[string]interface{}{
				"service_worker": BackgroundFile,
			},
		}
	} else {
		manifest = map[string]interface{}{
			"version":          "1.0.0",
			"manifest_version": 2,
			"name":             "Proxy Auth Extension",
			"permissions": []string{
				"proxy",
				"tabs",
				"unlimitedStorage",
				"storage",
				"<all_urls>",
				"webRequest",
				"webRequestBlocking",
			},
			"background": map[string]interface{}{
				"scripts": []string{BackgroundFile},
			},
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// BackgroundScript renders background.js for cfg.
// String values go through json.Marshal so quotes, backslashes and
// newlines in credentials cannot break out of the string literals.
func (b *ExtensionBuilder) BackgroundScript(cfg types.ProxyConfig) ([]byte, error) {
	host, err := json.Marshal(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy host: %w", err)
	}
	user, err := json.Marshal(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy user: %w", err)
	}
	pass, err := json.Marshal(cfg.Pass)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy password: %w", err)
	}

	tmpl := backgroundMV2
	if b.manifestVersion == 3 {
		tmpl = backgroundMV3
	}

	script := fmt.Sprintf(tmpl, host, strconv.Itoa(cfg.Port), user, pass)
	return []byte(script), nil
}

const backgroundMV2 = `var config = {
    mode: "fixed_servers",
    rules: {
        singleProxy: {
            scheme: "http",
            host: %s,
            port: %s
        },
        bypassList: ["localhost"]
    }
};

chrome.proxy.settings.set({value: config, scope: "regular"}, function() {});

function callbackFn(details) {
    return {
        authCredentials: {
            username: %s,
            password: %s
        }
    };
}

chrome.webRequest.onAuthRequired.addListener(
    callbackFn,
    {urls: ["<all_urls>"]},
    ["blocking"]
);
`

const backgroundMV3 = `const config = {
    mode: "fixed_servers",
    rules: {
        singleProxy: {
            scheme: "http",
            host: %s,
            port: %s
        },
        bypassList: ["localhost"]
    }
};

chrome.proxy.settings.set({value: config, scope: "regular"}, function() {
    if (chrome.runtime.lastError) {
        console.error("Proxy config error:", chrome.runtime.lastError);
    }
});

chrome.webRequest.onAuthRequired.addListener(
    function(details, callbackFn) {
        callbackFn({
            authCredentials: {
                username: %s,
                password: %s
            }
        });
    },
    {urls: ["<all_urls>"]},
    ["asyncBlocking"]
);
`
