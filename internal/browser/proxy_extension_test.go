package browser

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

const (
	testExtDir  = "/ext"
	testArchive = "/ext/" + ArchiveFile
)

func readArchive(t *testing.T, fs afero.Fs, path string) map[string]string {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Archive is not a valid zip: %v", err)
	}

	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open entry %s: %v", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatalf("Failed to read entry %s: %v", f.Name, err)
		}
		rc.Close()
		entries[f.Name] = buf.String()
	}
	return entries
}

func TestBuildArchiveContents(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewExtensionBuilder(fs, 2)
	cfg := types.ProxyConfig{Host: "1.2.3.4", Port: 8080, User: "u", Pass: "p"}

	if err := b.Build(cfg, testExtDir, testArchive); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	entries := readArchive(t, fs, testArchive)
	if len(entries) != 2 {
		t.Fatalf("Archive has %d entries, want exactly 2", len(entries))
	}

	script, ok := entries[BackgroundFile]
	if !ok {
		t.Fatal("Archive is missing background.js")
	}
	for _, want := range []string{`host: "1.2.3.4"`, `port: 8080`, `username: "u"`, `password: "p"`, `bypassList: ["localhost"]`} {
		if !strings.Contains(script, want) {
			t.Errorf("background.js missing %q", want)
		}
	}

	var manifest map[string]interface{}
	if err := json.Unmarshal([]byte(entries[ManifestFile]), &manifest); err != nil {
		t.Fatalf("manifest.json is not valid JSON: %v", err)
	}
	if v, _ := manifest["manifest_version"].(float64); v != 2 {
		t.Errorf("manifest_version = %v, want 2", manifest["manifest_version"])
	}

	perms, _ := manifest["permissions"].([]interface{})
	have := make(map[string]bool)
	for _, p := range perms {
		have[p.(string)] = true
	}
	for _, want := range []string{"proxy", "tabs", "unlimitedStorage", "storage", "<all_urls>", "webRequest", "webRequestBlocking"} {
		if !have[want] {
			t.Errorf("manifest permissions missing %q", want)
		}
	}

	// Loose files are kept next to the archive.
	for _, name := range []string{ManifestFile, BackgroundFile} {
		if ok, _ := afero.Exists(fs, filepath.Join(testExtDir, name)); !ok {
			t.Errorf("%s was not written to the extension directory", name)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewExtensionBuilder(fs, 2)
	cfg := types.ProxyConfig{Host: "proxy.example.com", Port: 3128, User: "alice", Pass: "s3cret"}

	if err := b.Build(cfg, testExtDir, testArchive); err != nil {
		t.Fatalf("first Build() error: %v", err)
	}
	first, _ := afero.ReadFile(fs, testArchive)

	if err := b.Build(cfg, testExtDir, testArchive); err != nil {
		t.Fatalf("second Build() error: %v", err)
	}
	second, _ := afero.ReadFile(fs, testArchive)

	if !bytes.Equal(first, second) {
		t.Error("Rebuilding the same configuration produced a different archive")
	}
}

func TestBuildManifestV3(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewExtensionBuilder(fs, 3)

	if err := b.Build(types.ProxyConfig{Host: "h", Port: 1, User: "u", Pass: "p"}, testExtDir, testArchive); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	entries := readArchive(t, fs, testArchive)

	var manifest struct {
		ManifestVersion int      `json:"manifest_version"`
		Permissions     []string `json:"permissions"`
		HostPermissions []string `json:"host_permissions"`
		Background      struct {
			ServiceWorker string `json:"service_worker"`
		} `json:"background"`
	}
	if err := json.Unmarshal([]byte(entries[ManifestFile]), &manifest); err != nil {
		t.Fatalf("manifest.json is not valid JSON: %v", err)
	}
	if manifest.ManifestVersion != 3 {
		t.Errorf("manifest_version = %d, want 3", manifest.ManifestVersion)
	}
	if manifest.Background.ServiceWorker != BackgroundFile {
		t.Errorf("service_worker = %q, want %q", manifest.Background.ServiceWorker, BackgroundFile)
	}
	if len(manifest.HostPermissions) != 1 || manifest.HostPermissions[0] != "<all_urls>" {
		t.Errorf("host_permissions = %v", manifest.HostPermissions)
	}
	if !strings.Contains(entries[BackgroundFile], `["asyncBlocking"]`) {
		t.Error("MV3 background script should use asyncBlocking")
	}
}

func TestNewExtensionBuilderUnknownVersion(t *testing.T) {
	b := NewExtensionBuilder(afero.NewMemMapFs(), 7)
	if b.manifestVersion != 2 {
		t.Errorf("manifestVersion = %d, want fallback 2", b.manifestVersion)
	}
}

// TestBackgroundScriptSpecialCharacters verifies that credentials are
// escaped as JSON string literals.
func TestBackgroundScriptSpecialCharacters(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"double quotes", `user"name`, `pass"word`},
		{"single quotes", `user'name`, `pass'word`},
		{"backslash", `user\name`, `pass\word`},
		{"at sign", `user@domain.com`, `p@ssword`},
		{"colon", `user:name`, `pass:word`},
		{"newline", "user\nname", "pass\nword"},
		{"unicode", `用户名`, `密码`},
		{"js injection", `"; alert('xss'); //`, `pass`},
		{"closing brace", `"}); malicious(); ({x:"`, `pass`},
		{"template literal", "${process.env}", "`pass`"},
		{"null byte", "user\x00name", "pass\x00word"},
	}

	b := NewExtensionBuilder(afero.NewMemMapFs(), 2)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := types.ProxyConfig{Host: "proxy.example.com", Port: 8080, User: tt.username, Pass: tt.password}
			script, err := b.BackgroundScript(cfg)
			if err != nil {
				t.Fatalf("BackgroundScript() error: %v", err)
			}

			wantUser, _ := json.Marshal(tt.username)
			wantPass, _ := json.Marshal(tt.password)

			if !strings.Contains(string(script), "username: "+string(wantUser)) {
				t.Errorf("username not JSON-escaped, want literal %s", wantUser)
			}
			if !strings.Contains(string(script), "password: "+string(wantPass)) {
				t.Errorf("password not JSON-escaped, want literal %s", wantPass)
			}
		})
	}
}

func TestBuildPermissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewExtensionBuilder(fs, 2)

	if err := b.Build(types.ProxyConfig{Host: "h", Port: 1, User: "u", Pass: "p"}, testExtDir, testArchive); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	for _, name := range []string{testArchive, filepath.Join(testExtDir, BackgroundFile)} {
		info, err := fs.Stat(name)
		if err != nil {
			t.Fatalf("Stat(%s) error: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			t.Errorf("%s has permissions %o, want owner-only", name, perm)
		}
	}
}

func TestBuildReadOnlyFilesystem(t *testing.T) {
	b := NewExtensionBuilder(afero.NewReadOnlyFs(afero.NewMemMapFs()), 2)
	if err := b.Build(types.ProxyConfig{Host: "h", Port: 1}, testExtDir, testArchive); err == nil {
		t.Error("Build() on a read-only filesystem should fail")
	}
}

func TestUnpack(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewExtensionBuilder(fs, 2)
	cfg := types.ProxyConfig{Host: "1.2.3.4", Port: 8080, User: "u", Pass: "p"}

	if err := b.Build(cfg, testExtDir, testArchive); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	dest := filepath.Join(testExtDir, UnpackedDir)
	if err := b.Unpack(testArchive, dest); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	want, _ := b.BackgroundScript(cfg)
	got, err := afero.ReadFile(fs, filepath.Join(dest, BackgroundFile))
	if err != nil {
		t.Fatalf("Unpacked background.js missing: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Unpacked background.js differs from the rendered script")
	}
}

func TestUnpackMissingArchive(t *testing.T) {
	b := NewExtensionBuilder(afero.NewMemMapFs(), 2)

	err := b.Unpack("/nowhere/"+ArchiveFile, "/nowhere/unpacked")
	if !errors.Is(err, types.ErrExtensionMissing) {
		t.Errorf("Unpack() error = %v, want ErrExtensionMissing", err)
	}
}

func TestUnpackInvalidArchive(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		raw     []byte
	}{
		{name: "not a zip", raw: []byte("definitely not a zip file")},
		{name: "extra entry", entries: map[string]string{
			ManifestFile:   "{}",
			BackgroundFile: "",
			"evil.js":      "",
		}},
		{name: "path traversal", entries: map[string]string{"../" + ManifestFile: "{}"}},
		{name: "missing background", entries: map[string]string{ManifestFile: "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			data := tt.raw
			if data == nil {
				var buf bytes.Buffer
				zw := zip.NewWriter(&buf)
				for name, content := range tt.entries {
					w, err := zw.Create(name)
					if err != nil {
						t.Fatalf("Create(%s) error: %v", name, err)
					}
					w.Write([]byte(content))
				}
				zw.Close()
				data = buf.Bytes()
			}
			if err := afero.WriteFile(fs, testArchive, data, 0600); err != nil {
				t.Fatalf("Failed to seed archive: %v", err)
			}

			err := NewExtensionBuilder(fs, 2).Unpack(testArchive, "/ext/unpacked")
			if !errors.Is(err, types.ErrExtensionInvalid) {
				t.Errorf("Unpack() error = %v, want ErrExtensionInvalid", err)
			}
		})
	}
}
