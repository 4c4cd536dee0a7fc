package manifest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seantiz/anvil/internal/apperr"
)

// DefaultFile is the manifest filename looked up in app directories.
const DefaultFile = "anvil.json"

// SourceKind tells where a manifest was loaded from.
type SourceKind string

const (
	SourceGit  SourceKind = "git"
	SourceHTTP SourceKind = "http"
	SourceFile SourceKind = "file"
)

// Source is a fetched manifest document and the place it lives.
type Source struct {
	Kind SourceKind
	Raw  map[string]any

	// Root is the app directory for git and file sources, and the
	// manifest URL for HTTP sources.
	Root string
}

// Cloner fetches a repository into a directory.
type Cloner interface {
	Clone(ctx context.Context, url, dir string) error
}

// LoaderConfig holds loader settings.
type LoaderConfig struct {
	CachePath    string
	ManifestFile string
}

// Loader resolves app locators into manifest documents.
type Loader struct {
	cfg    LoaderConfig
	git    Cloner
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLoader creates a Loader. An empty ManifestFile defaults to DefaultFile.
func NewLoader(cfg LoaderConfig, git Cloner, client *http.Client, logger *slog.Logger) *Loader {
	if cfg.ManifestFile == "" {
		cfg.ManifestFile = DefaultFile
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		cfg:    cfg,
		git:    git,
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// CacheKey returns the cache directory name for a locator: the hex HMAC-SHA256
// of the locator under an empty key.
func CacheKey(locator string) string {
	mac := hmac.New(sha256.New, nil)
	mac.Write([]byte(locator))
	return hex.EncodeToString(mac.Sum(nil))
}

// GitURL reports whether locator names a git repository and returns the URL
// to clone.
func GitURL(locator string) (string, bool) {
	switch {
	case strings.HasPrefix(locator, "git+http://"), strings.HasPrefix(locator, "git+https://"):
		return strings.TrimPrefix(locator, "git+"), true
	case isHTTP(locator) && strings.HasSuffix(locator, ".git"):
		return locator, true
	default:
		return "", false
	}
}

func isHTTP(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Load fetches the manifest named by locator.
func (l *Loader) Load(ctx context.Context, locator string) (Source, error) {
	if locator == "" {
		return Source{}, apperr.E(apperr.KindLoad, "", "", apperr.ErrEmptyPath)
	}

	if url, ok := GitURL(locator); ok {
		return l.loadGit(ctx, locator, url)
	}
	if isHTTP(locator) {
		return l.loadHTTP(ctx, locator)
	}
	return l.loadFile(locator)
}

func (l *Loader) loadGit(ctx context.Context, locator, url string) (Source, error) {
	dir := filepath.Join(l.cfg.CachePath, CacheKey(locator))

	unlock := l.lock(locator)
	defer unlock()

	if _, err := os.Stat(dir); err == nil {
		l.logger.Info("using cached repository", "locator", locator, "dir", dir)
	} else {
		if err := l.fetchGit(ctx, url, dir); err != nil {
			return Source{}, apperr.E(apperr.KindLoad, "", "git fetch", err)
		}
	}

	raw, err := readManifest(filepath.Join(dir, l.cfg.ManifestFile))
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "read", err)
	}
	return Source{Kind: SourceGit, Raw: raw, Root: dir}, nil
}

// fetchGit clones into a temporary directory next to dir, checks the manifest
// is there and moves the clone into place unless another fetch got there first.
func (l *Loader) fetchGit(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(l.cfg.CachePath, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.MkdirTemp(l.cfg.CachePath, "anvil-git-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	l.logger.Info("fetching repository", "url", url)
	if err := l.git.Clone(ctx, url, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if _, err := os.Stat(filepath.Join(tmp, l.cfg.ManifestFile)); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("%w in repository %s", apperr.ErrNoManifest, url)
	}

	if _, err := os.Stat(dir); err == nil {
		// Lost the race to another process.
		os.RemoveAll(tmp)
		return nil
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		if _, statErr := os.Stat(dir); statErr == nil {
			return nil
		}
		return fmt.Errorf("move clone into cache: %w", err)
	}
	return nil
}

func (l *Loader) lock(locator string) func() {
	l.mu.Lock()
	m, ok := l.locks[locator]
	if !ok {
		m = &sync.Mutex{}
		l.locks[locator] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *Loader) loadHTTP(ctx context.Context, locator string) (Source, error) {
	l.logger.Info("fetching manifest", "url", locator)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "http", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Source{}, apperr.Errorf(apperr.KindLoad, "", "http", "GET %s: unexpected status %d", locator, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "http", fmt.Errorf("read body: %w", err))
	}
	raw, err := parse(body)
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "http", err)
	}
	return Source{Kind: SourceHTTP, Raw: raw, Root: locator}, nil
}

func (l *Loader) loadFile(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, apperr.Errorf(apperr.KindLoad, "", "read", "%w: %s", apperr.ErrNoManifest, path)
		}
		return Source{}, apperr.E(apperr.KindLoad, "", "read", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, l.cfg.ManifestFile)
	}

	l.logger.Info("reading manifest", "path", path)
	raw, err := readManifest(path)
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "read", err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Source{}, apperr.E(apperr.KindLoad, "", "read", err)
	}
	return Source{Kind: SourceFile, Raw: raw, Root: root}, nil
}

func readManifest(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNoManifest, path)
		}
		return nil, err
	}
	raw, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return raw, nil
}

func parse(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if raw == nil {
		return nil, errors.New("parse manifest: document is not an object")
	}
	return raw, nil
}
