package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Maximum size accepted for an external profile file (1MB)
const maxProfileSize = 1 << 20

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 100 * time.Millisecond

// ReloadStats contains statistics about profile reloads.
type ReloadStats struct {
	LastReloadTime time.Time
	ReloadCount    int64
	LastError      error
}

// Manager provides hot-reload capable profile management.
// It starts from the embedded profile and optionally merges and watches an
// external file. Reads are lock-free using atomic.Value.
type Manager struct {
	current      atomic.Value // *Profile
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reloads, stats and listeners
	stats        ReloadStats
	listeners    []func(*Profile)
	closed       bool
}

// NewManager creates a profile manager.
// If externalPath is empty, only the embedded profile is used. A broken
// external file is logged and the embedded profile is kept. If hotReload is
// true and externalPath is set, file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(Default())

	if externalPath == "" {
		return m, nil
	}

	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("Failed to load profile override, using embedded profile")
	} else {
		log.Info().
			Str("path", externalPath).
			Msg("Loaded profile override")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Hot-reload enabled for profile file")
		}
	}

	return m, nil
}

// Get returns the current profile. The returned value must not be modified.
func (m *Manager) Get() *Profile {
	return m.current.Load().(*Profile)
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Profile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reload re-reads the external file and merges it over the embedded profile.
// On failure the previous profile stays in use.
func (m *Manager) Reload() error {
	m.mu.Lock()

	if m.externalPath == "" {
		m.mu.Unlock()
		return fmt.Errorf("no external profile path configured")
	}

	p, err := m.loadExternal()
	if err != nil {
		m.stats.LastError = err
		m.mu.Unlock()
		return err
	}

	m.current.Store(p)
	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil
	count := m.stats.ReloadCount
	listeners := append([]func(*Profile){}, m.listeners...)
	m.mu.Unlock()

	log.Debug().
		Int64("reload_count", count).
		Str("path", m.externalPath).
		Msg("Profile reloaded")

	for _, fn := range listeners {
		fn(p)
	}
	return nil
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// loadExternal reads and parses the external file.
// Must be called with m.mu held.
func (m *Manager) loadExternal() (*Profile, error) {
	info, err := os.Stat(m.externalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat profile file: %w", err)
	}
	if info.Size() > maxProfileSize {
		return nil, fmt.Errorf("profile file exceeds %d bytes", maxProfileSize)
	}

	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	return p, nil
}

// startWatcher watches the directory holding the profile so that editors
// which save by renaming a temp file over it are still picked up.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.externalPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch profile directory: %w", err)
	}

	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()

	return nil
}

// watchFile watches for file changes and triggers reloads.
func (m *Manager) watchFile() {
	defer m.wg.Done()

	target := filepath.Clean(m.externalPath)
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Profile file changed")

			if debounceTimer == nil {
				debounceTimer = time.AfterFunc(debounceDelay, m.reloadFromWatcher)
			} else {
				debounceTimer.Reset(debounceDelay)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (m *Manager) reloadFromWatcher() {
	select {
	case <-m.stopCh:
		return
	default:
	}
	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", m.externalPath).
			Msg("Hot-reload failed, keeping previous profile")
	}
}
