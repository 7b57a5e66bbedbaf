// Package storage defines the contracts the janitor engine consumes from a
// remote multi-tenant file storage service and its surrounding platform.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports that the addressed object no longer exists.
	ErrNotFound = errors.New("not found")

	// ErrTenantNotFound reports that a tenant id is unknown to the directory.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Tenant is one isolated storage namespace.
type Tenant struct {
	ID   int64
	Name string
}

// TenantPage is one page of a tenant enumeration. PagesCount is the total
// number of pages available with the same page size.
type TenantPage struct {
	Tenants    []Tenant
	PagesCount int
}

// FileEntry is a single listed object.
type FileEntry struct {
	Path         string
	Name         string
	LastModified time.Time
	IsDir        bool
	Size         int64
}

// Task is the metadata the platform keeps about an application session.
type Task struct {
	ID      int64
	AppName string
}

// ListRequest describes one remote list call.
type ListRequest struct {
	Path           string
	Recursive      bool
	IncludeFiles   bool
	IncludeFolders bool
	WithMetadata   bool
	Limit          int
	Cursor         string
}

// ListPage is the answer to one remote list call. An empty NextCursor means
// the listing is exhausted.
type ListPage struct {
	Entries    []FileEntry
	NextCursor string
}

// Directory enumerates tenants and their workspaces.
type Directory interface {
	ListTenants(ctx context.Context, page int) (TenantPage, error)
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	ListWorkspaces(ctx context.Context, tenantID int64) ([]int64, error)
}

// Lister lists entries under a path of a tenant's storage.
type Lister interface {
	ListPage(ctx context.Context, tenantID int64, req ListRequest) (ListPage, error)

	// IsOnAgent reports whether path lives on a storage mount served by an
	// execution agent. Failures on such paths are expected while agents are
	// offline.
	IsOnAgent(path string) bool
}

// Remover deletes paths. Paths that are already gone are not an error.
type Remover interface {
	RemoveBatch(ctx context.Context, tenantID int64, paths []string) error
}

// TaskService resolves task ids to task metadata within a workspace.
type TaskService interface {
	GetTasksByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]Task, error)
}

// Driver is a storage backend able to both list and delete.
type Driver interface {
	Lister
	Remover
}

// LimitExceededError is returned by a Lister when the requested page size is
// larger than the server accepts. AdvisedMax is zero when the server did not
// say what it would accept.
type LimitExceededError struct {
	Requested  int
	AdvisedMax int
}

func (e *LimitExceededError) Error() string {
	if e.AdvisedMax > 0 {
		return fmt.Sprintf("list limit %d exceeds server maximum %d", e.Requested, e.AdvisedMax)
	}
	return fmt.Sprintf("list limit %d exceeds server maximum", e.Requested)
}

// RemoteError wraps a failed remote call with the operation and path involved.
type RemoteError struct {
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("storage: %s %q: status %d: %v", e.Op, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// CursorAfter returns a continuation token that resumes a listing right after
// path.
func CursorAfter(path string) string {
	if path == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(path))
}

// DecodeCursor returns the path a continuation token resumes after.
func DecodeCursor(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	return string(raw), nil
}
