// Package modules discovers project modules on disk for viewers that ask
// which modules the project ships.
package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/slighter12/graph-livesync/logger"
)

// ManifestFile marks a directory as a module.
const ManifestFile = "manifest.json"

// Module is one discovered module.
type Module struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Manifest json.RawMessage `json:"manifest,omitempty"`
}

// Scanner lists the modules under Dir.
type Scanner struct {
	Dir string
}

// Scan returns every sub-directory of Dir holding a manifest, sorted by
// name. A missing Dir is an empty result.
func (s Scanner) Scan(ctx context.Context) ([]Module, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Module{}, nil
		}
		return nil, fmt.Errorf("scan modules in %s: %w", s.Dir, err)
	}

	out := make([]Module, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		raw, err := os.ReadFile(filepath.Join(path, ManifestFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read manifest of %s: %w", entry.Name(), err)
		}
		module := Module{Name: entry.Name(), Path: path}
		if json.Valid(raw) {
			module.Manifest = raw
		} else {
			logger.Warn("Ignoring invalid module manifest", "module", entry.Name())
		}
		out = append(out, module)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Lister produces the current module list.
type Lister interface {
	Scan(ctx context.Context) ([]Module, error)
}

// Cache memoizes the last successful scan until invalidated. It is safe
// for concurrent use.
type Cache struct {
	scanner Lister

	mu      sync.Mutex
	modules []Module
	valid   bool
	// gen changes on every Invalidate; a scan only fills the cache if gen
	// is unchanged when it finishes.
	gen uint64
}

// NewCache wraps scanner.
func NewCache(scanner Lister) *Cache {
	return &Cache{scanner: scanner}
}

// Scan returns the cached modules, scanning on a miss.
func (c *Cache) Scan(ctx context.Context) ([]Module, error) {
	c.mu.Lock()
	if c.valid {
		out := append([]Module(nil), c.modules...)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gen
	c.mu.Unlock()

	modules, err := c.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.modules = modules
		c.valid = true
	}
	c.mu.Unlock()
	return append([]Module(nil), modules...), nil
}

// Invalidate forces the next Scan to hit the disk.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.modules = nil
	c.valid = false
	c.gen++
	c.mu.Unlock()
}
