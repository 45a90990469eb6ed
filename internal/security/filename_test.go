package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

func TestSanitizeJarName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain name", input: "account1", want: "account1.json"},
		{name: "already has extension", input: "account1.json", want: "account1.json"},
		{name: "upper case extension", input: "account1.JSON", want: "account1.JSON"},
		{name: "other extension kept", input: "jar.txt", want: "jar.txt.json"},
		{name: "surrounding spaces", input: "  jar  ", want: "jar.json"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "backslash", input: `a\b`, wantErr: true},
		{name: "traversal", input: "..", wantErr: true},
		{name: "traversal prefix", input: "../etc/passwd", wantErr: true},
		{name: "control character", input: "jar\x00", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 250), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeJarName(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SanitizeJarName(%q) = %q, expected error", tt.input, got)
				}
				if !errors.Is(err, types.ErrInvalidCookieName) {
					t.Errorf("error should wrap ErrInvalidCookieName, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeJarName(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("SanitizeJarName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
