// Package settings persists the proxy configuration that the current
// extension archive was built from.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// FileName is the record's name inside the extension directory.
const FileName = "proxy_settings.json"

// Store reads and writes the last materialized ProxyConfig.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore returns a store backed by path on fs.
// A nil fs uses the operating system filesystem.
func NewStore(fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, path: path}
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored record.
// A missing file yields (nil, nil). An unreadable or malformed file yields
// (nil, err) with err wrapping types.ErrSettingsCorrupt; callers treat both
// cases as "no record".
func (s *Store) Load() (*types.ProxyConfig, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrSettingsCorrupt, s.path, err)
	}

	var record types.ProxyConfig
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrSettingsCorrupt, s.path, err)
	}

	log.Debug().Str("path", s.path).Msg("Loaded stored proxy settings")
	return &record, nil
}

// Save overwrites the record with cfg.
// The file holds the proxy password, so it is written owner-only.
func (s *Store) Save(cfg types.ProxyConfig) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal proxy settings: %w", err)
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write proxy settings: %w", err)
	}

	log.Debug().Str("path", s.path).Msg("Saved proxy settings")
	return nil
}
