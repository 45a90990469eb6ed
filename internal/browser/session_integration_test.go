//go:build integration

package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/afero"

	"github.com/Rorqualx/proxybrowser-go/internal/profile"
	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// TestSessionEndToEnd launches a real Chromium with the proxy extension
// loaded and checks stealth values and cookie access on a loopback page.
// Loopback addresses bypass the configured proxy.
func TestSessionEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	dir := t.TempDir()
	archive := filepath.Join(dir, ArchiveFile)
	unpacked := filepath.Join(dir, UnpackedDir)

	b := NewExtensionBuilder(afero.NewOsFs(), 3)
	if err := b.Build(types.ProxyConfig{Host: "127.0.0.1", Port: 9, User: "u", Pass: "p"}, dir, archive); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if err := b.Unpack(archive, unpacked); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p := profile.Default()
	session, err := Launch(ctx, LaunchOptions{
		Headless:          true,
		ExtensionDir:      unpacked,
		NavigationTimeout: 30 * time.Second,
		Profile:           p,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	defer session.Close()

	if err := session.ApplyStealth(p); err != nil {
		t.Fatalf("ApplyStealth() error: %v", err)
	}
	if err := session.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}

	platform, err := session.page.Eval(`() => navigator.platform`)
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if got := platform.Value.Str(); got != p.Stealth.Platform {
		t.Errorf("navigator.platform = %q, want %q", got, p.Stealth.Platform)
	}

	if err := session.SetCookies([]*proto.NetworkCookieParam{{Name: "k", Value: "v", URL: srv.URL}}); err != nil {
		t.Fatalf("SetCookies() error: %v", err)
	}
	cookies, err := session.GetCookies()
	if err != nil {
		t.Fatalf("GetCookies() error: %v", err)
	}
	found := false
	for _, c := range cookies {
		if c.Name == "k" && c.Value == "v" {
			found = true
		}
	}
	if !found {
		t.Error("Injected cookie not returned by GetCookies")
	}

	if err := session.Reload(ctx); err != nil {
		t.Errorf("Reload() error: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
