// Package local implements the storage contracts over a directory tree. Every
// numeric subdirectory of the root is a tenant.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

const (
	defaultPageSize = 1000
	tenantsPerPage  = 500
)

// LocalDriver implements storage.Driver and storage.Directory for local
// filesystem storage.
type LocalDriver struct {
	root string
}

// New creates a new LocalDriver rooted at root.
func New(root string) (*LocalDriver, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is not set")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local root directory: %w", err)
	}
	return &LocalDriver{root: root}, nil
}

func (d *LocalDriver) tenantDir(tenantID int64) string {
	return filepath.Join(d.root, strconv.FormatInt(tenantID, 10))
}

// ErrOutsideTenant is returned for paths that resolve outside the tenant's
// directory.
var ErrOutsideTenant = errors.New("path resolves outside the tenant directory")

// fsPath maps a tenant path to the filesystem. The cleaned result must stay
// inside the tenant directory.
func (d *LocalDriver) fsPath(tenantID int64, p string) (string, error) {
	tenantRoot := d.tenantDir(tenantID)
	full := filepath.Join(tenantRoot, filepath.FromSlash(strings.TrimPrefix(p, "/")))

	rel, err := filepath.Rel(tenantRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", p, ErrOutsideTenant)
	}
	return full, nil
}

// ListPage lists entries under req.Path in path order. Cursors are
// storage.CursorAfter tokens.
func (d *LocalDriver) ListPage(ctx context.Context, tenantID int64, req storage.ListRequest) (storage.ListPage, error) {
	after, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		return storage.ListPage{}, err
	}

	entries, err := d.collect(ctx, tenantID, req)
	if err != nil {
		return storage.ListPage{}, &storage.RemoteError{Op: "list", Path: req.Path, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	start := sort.Search(len(entries), func(i int) bool { return entries[i].Path > after })
	entries = entries[start:]

	size := req.Limit
	if size <= 0 {
		size = defaultPageSize
	}

	var page storage.ListPage
	if len(entries) > size {
		entries = entries[:size]
		page.NextCursor = storage.CursorAfter(entries[size-1].Path)
	}
	page.Entries = entries
	return page, nil
}

func (d *LocalDriver) collect(ctx context.Context, tenantID int64, req storage.ListRequest) ([]storage.FileEntry, error) {
	base, err := d.fsPath(tenantID, req.Path)
	if err != nil {
		return nil, err
	}
	tenantRoot := d.tenantDir(tenantID)

	var entries []storage.FileEntry
	visit := func(full string, de fs.DirEntry) error {
		if full == base {
			return nil
		}
		if de.IsDir() && !req.IncludeFolders {
			return nil
		}
		if !de.IsDir() && !req.IncludeFiles {
			return nil
		}

		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(tenantRoot, full)
		if err != nil {
			return err
		}
		entry := storage.FileEntry{
			Path:         "/" + filepath.ToSlash(rel),
			Name:         de.Name(),
			LastModified: info.ModTime(),
			IsDir:        de.IsDir(),
		}
		if entry.IsDir {
			entry.Path += "/"
		} else {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
		return nil
	}

	if !req.Recursive {
		dirEntries, err := os.ReadDir(base)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, de := range dirEntries {
			if err := visit(filepath.Join(base, de.Name()), de); err != nil {
				return nil, err
			}
		}
		return entries, nil
	}

	err = filepath.WalkDir(base, func(full string, de fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return visit(full, de)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// IsOnAgent is always false for local storage.
func (d *LocalDriver) IsOnAgent(string) bool {
	return false
}

// RemoveBatch removes files. Missing files are ignored.
func (d *LocalDriver) RemoveBatch(ctx context.Context, tenantID int64, paths []string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		full, err := d.fsPath(tenantID, p)
		if err != nil {
			return &storage.RemoteError{Op: "remove", Path: p, Err: err}
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &storage.RemoteError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}

// ListTenants returns one page of tenant directories ordered by id.
func (d *LocalDriver) ListTenants(ctx context.Context, page int) (storage.TenantPage, error) {
	ids, err := d.tenantIDs()
	if err != nil {
		return storage.TenantPage{}, err
	}
	if page < 1 {
		page = 1
	}

	out := storage.TenantPage{PagesCount: (len(ids) + tenantsPerPage - 1) / tenantsPerPage}
	start := min((page-1)*tenantsPerPage, len(ids))
	end := min(start+tenantsPerPage, len(ids))
	for _, id := range ids[start:end] {
		out.Tenants = append(out.Tenants, storage.Tenant{ID: id, Name: strconv.FormatInt(id, 10)})
	}
	return out, nil
}

func (d *LocalDriver) tenantIDs() ([]int64, error) {
	dirEntries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read local root: %w", err)
	}
	var ids []int64
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(de.Name(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetTenant reports whether the tenant directory exists.
func (d *LocalDriver) GetTenant(ctx context.Context, id int64) (storage.Tenant, error) {
	info, err := os.Stat(d.tenantDir(id))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return storage.Tenant{}, fmt.Errorf("tenant %d: %w", id, storage.ErrTenantNotFound)
	}
	if err != nil {
		return storage.Tenant{}, fmt.Errorf("stat tenant %d: %w", id, err)
	}
	return storage.Tenant{ID: id, Name: strconv.FormatInt(id, 10)}, nil
}

// ListWorkspaces returns nothing: local trees carry no workspace metadata.
func (d *LocalDriver) ListWorkspaces(context.Context, int64) ([]int64, error) {
	return nil, nil
}
