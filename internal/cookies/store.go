package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/proxybrowser-go/internal/security"
	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// listConcurrency bounds parallel jar parsing in List.
const listConcurrency = 4

// maxJarSize bounds a single jar file (8MB).
const maxJarSize = 8 << 20

// LoadResult describes what LoadRandom injected.
type LoadResult struct {
	File     string // empty when nothing was loaded
	Injected int
}

// JarSummary describes one jar file.
type JarSummary struct {
	File    string
	Cookies int
	Domains []string // registrable domains, sorted
	Err     error    // set when the file could not be parsed
}

// Store reads and writes cookie jar files.
type Store struct {
	fs         afero.Fs
	defaultURL string
	intn       func(n int) int
}

// NewStore returns a store on fs. Cookies without a domain are bound to
// defaultURL when injected. A nil fs uses the operating system filesystem.
func NewStore(fs afero.Fs, defaultURL string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, defaultURL: defaultURL, intn: rand.IntN}
}

// Save writes every cookie of the session to dir/name.
// ".json" is appended to name when missing.
func (s *Store) Save(jar Jar, dir, name string) error {
	fileName, err := security.SanitizeJarName(name)
	if err != nil {
		return err
	}

	cookies, err := jar.GetCookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies from browser: %w", err)
	}

	records := make([]Record, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		records = append(records, FromNetworkCookie(c))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	if err := afero.WriteFile(s.fs, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}

	log.Info().
		Str("file", path).
		Int("cookies", len(records)).
		Msg("Cookies saved")
	return nil
}

// LoadRandom picks one jar in dir uniformly at random and injects all of its
// cookies in a single call. A missing or empty directory is not an error.
func (s *Store) LoadRandom(jar Jar, dir string) (LoadResult, error) {
	files, err := s.jarFiles(dir)
	if err != nil {
		if errors.Is(err, types.ErrNoCookieJars) {
			log.Warn().Str("dir", dir).Msg("No cookie files found, starting with an empty jar")
			return LoadResult{}, nil
		}
		return LoadResult{}, err
	}

	path := filepath.Join(dir, files[s.intn(len(files))])
	records, err := s.readJar(path)
	if err != nil {
		return LoadResult{File: path}, err
	}

	return s.inject(jar, path, records)
}

func (s *Store) inject(jar Jar, path string, records []Record) (LoadResult, error) {
	result := LoadResult{File: path}
	if len(records) == 0 {
		log.Warn().Str("file", path).Msg("Cookie file is empty")
		return result, nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(records))
	for _, r := range records {
		params = append(params, r.Param(s.defaultURL))
	}

	if err := jar.SetCookies(params); err != nil {
		return result, fmt.Errorf("failed to inject cookies from %s: %w", path, err)
	}

	result.Injected = len(params)
	log.Info().
		Str("file", path).
		Int("cookies", result.Injected).
		Msg("Cookies loaded")
	return result, nil
}

// List summarizes every jar in dir. Files are parsed concurrently; a file
// that fails to parse is reported through its summary's Err.
func (s *Store) List(ctx context.Context, dir string) ([]JarSummary, error) {
	files, err := s.jarFiles(dir)
	if err != nil {
		return nil, err
	}

	summaries := make([]JarSummary, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for i, name := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary := JarSummary{File: name}
			records, err := s.readJar(filepath.Join(dir, name))
			if err != nil {
				summary.Err = err
			} else {
				summary.Cookies = len(records)
				summary.Domains = registrableDomains(records)
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// jarFiles returns the sorted names of regular *.json files in dir.
func (s *Store) jarFiles(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", types.ErrNoCookieJars, dir)
		}
		return nil, fmt.Errorf("failed to read cookie directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, e.Name())
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", types.ErrNoCookieJars, dir)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) readJar(path string) ([]Record, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat cookie file: %w", err)
	}
	if info.Size() > maxJarSize {
		return nil, fmt.Errorf("cookie file %s exceeds %d bytes", path, maxJarSize)
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	return records, nil
}

// registrableDomains maps cookie domains to their eTLD+1. Hosts without a
// public suffix (localhost, IP addresses) are reported as-is.
func registrableDomains(records []Record) []string {
	seen := make(map[string]bool)
	for _, r := range records {
		host := strings.TrimPrefix(strings.ToLower(r.Domain), ".")
		if host == "" {
			continue
		}
		domain, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil {
			domain = host
		}
		seen[domain] = true
	}

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
