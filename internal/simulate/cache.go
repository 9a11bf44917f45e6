package simulate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// GradedCache remembers, per client installation, which tracks were
// already graded so a client does not offer to grade them again. It is a
// JSON array of track ids on disk.
type GradedCache struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// OpenGradedCache loads the cache at path. A missing file is an empty cache.
func OpenGradedCache(path string) (*GradedCache, error) {
	c := &GradedCache{path: path, ids: make(map[string]struct{})}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read graded cache: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decode graded cache %s: %w", path, err)
	}
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	return c, nil
}

// Has reports whether trackID was graded from this installation.
func (c *GradedCache) Has(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[trackID]
	return ok
}

// Add records trackID and persists the cache.
func (c *GradedCache) Add(trackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[trackID]; ok {
		return nil
	}
	c.ids[trackID] = struct{}{}
	return c.saveLocked()
}

// Len returns the number of remembered tracks.
func (c *GradedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// saveLocked writes through a temp file so a crash never leaves a torn cache.
func (c *GradedCache) saveLocked() error {
	ids := make([]string, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode graded cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, directoryPermission); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".graded-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Chmod(filePermission); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace graded cache: %w", err)
	}
	return nil
}
