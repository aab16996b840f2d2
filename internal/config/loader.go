// ABOUTME: Base-directory-confined config loader with caching
// ABOUTME: Rejects path traversal, retries torn reads and reuses parsed configs until files change

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrPathTraversal is returned when a requested path resolves outside the
// loader's base directory.
var ErrPathTraversal = errors.New("config path escapes base directory")

const (
	defaultReadAttempts = 3
	defaultRetryDelay   = 10 * time.Millisecond
)

// Loader reads configuration files relative to a base directory.
type Loader struct {
	baseDir  string
	attempts int
	delay    time.Duration

	mu    sync.Mutex
	cache map[string]cachedConfig
}

type cachedConfig struct {
	cfg     Config
	modTime time.Time
	size    int64
}

// NewLoader creates a Loader rooted at baseDir.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir:  filepath.Clean(baseDir),
		attempts: defaultReadAttempts,
		delay:    defaultRetryDelay,
		cache:    make(map[string]cachedConfig),
	}
}

// Load returns the configuration stored at name, relative to the base
// directory. Each call returns a fresh copy; the cached value is never
// exposed.
func (l *Loader) Load(name string) (*Config, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		cfg := cached.cfg
		return &cfg, nil
	}

	cfg, info, err := l.read(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = cachedConfig{cfg: *cfg, modTime: info.ModTime(), size: info.Size()}
	l.mu.Unlock()

	out := *cfg
	return &out, nil
}

// Invalidate drops every cached configuration.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]cachedConfig)
	l.mu.Unlock()
}

// resolve joins name onto the base directory and rejects anything that
// lands outside it.
func (l *Loader) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	path := filepath.Join(l.baseDir, name)
	rel, err := filepath.Rel(l.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return path, nil
}

// read parses path, retrying when a parse failure coincides with the file
// changing underneath the read.
func (l *Loader) read(path string) (*Config, os.FileInfo, error) {
	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(l.delay)
		}

		before, err := os.Stat(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading config file: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading config file: %w", err)
		}
		after, err := os.Stat(path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading config file: %w", err)
		}

		cfg, err := Parse(data, filepath.Ext(path))
		torn := !before.ModTime().Equal(after.ModTime()) || before.Size() != after.Size() || int64(len(data)) != after.Size()
		if err == nil && !torn {
			return cfg, after, nil
		}
		if err != nil && !torn {
			return nil, nil, err
		}
		lastErr = err
		if lastErr == nil {
			lastErr = errors.New("config file changed during read")
		}
	}
	return nil, nil, fmt.Errorf("reading config file after %d attempts: %w", l.attempts, lastErr)
}
