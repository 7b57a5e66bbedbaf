package engine

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// TaskSet is a set of task ids.
type TaskSet map[int64]struct{}

func (s TaskSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Classifier decides whether a listed entry should be deleted. It holds no
// mutable state.
type Classifier struct {
	cutoff       time.Time
	extensions   map[string]struct{}
	keepPatterns []string
}

// NewClassifier builds a classifier for entries last modified before cutoff.
func NewClassifier(cutoff time.Time, extensions, keepPatterns []string) (*Classifier, error) {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	for _, pattern := range keepPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid keep pattern %q", pattern)
		}
	}

	return &Classifier{cutoff: cutoff, extensions: exts, keepPatterns: keepPatterns}, nil
}

func (c *Classifier) Cutoff() time.Time {
	return c.cutoff
}

// ShouldDelete reports whether entry, listed under dir, is eligible for
// deletion under dir's mode. removable is only consulted in SessionAware mode,
// where the task id is the first path segment below dir.Path.
func (c *Classifier) ShouldDelete(entry storage.FileEntry, dir DirectoryTarget, removable TaskSet) bool {
	if entry.IsDir || c.kept(entry.Path) {
		return false
	}

	switch dir.Mode {
	case DateOnly:
		return c.expired(entry)
	case DateOrExtension:
		return c.expired(entry) || c.scratch(entry)
	case SessionAware:
		if id, ok := TaskIDFromPath(dir.Path, entry.Path); ok && removable.Has(id) {
			return true
		}
		return c.expired(entry) || c.scratch(entry)
	default:
		return false
	}
}

func (c *Classifier) expired(entry storage.FileEntry) bool {
	return !entry.LastModified.IsZero() && entry.LastModified.Before(c.cutoff)
}

func (c *Classifier) scratch(entry storage.FileEntry) bool {
	name := entry.Name
	if name == "" {
		name = path.Base(entry.Path)
	}
	_, ok := c.extensions[path.Ext(name)]
	return ok
}

func (c *Classifier) kept(p string) bool {
	for _, pattern := range c.keepPatterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// TaskIDFromPath extracts the task id from <root>/<taskId>/... paths.
func TaskIDFromPath(root, p string) (int64, bool) {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	rest, ok := strings.CutPrefix(p, root)
	if !ok {
		return 0, false
	}
	segment, _, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
