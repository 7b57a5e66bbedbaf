package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func oldFile(p string) storage.FileEntry {
	return storage.FileEntry{Path: p, Name: p[strings.LastIndex(p, "/")+1:], LastModified: testNow.AddDate(0, 0, -60)}
}

func freshFile(p string) storage.FileEntry {
	return storage.FileEntry{Path: p, Name: p[strings.LastIndex(p, "/")+1:], LastModified: testNow.Add(-time.Hour)}
}

// fakeStorage is an in-memory storage.Driver. Listings are ordered by path
// and cursors are storage.CursorAfter tokens, like the real drivers.
type fakeStorage struct {
	mu    sync.Mutex
	files map[int64]map[string]storage.FileEntry

	pageSize     int // server page size when the request has no limit
	maxLimit     int // requests above this fail with LimitExceededError
	advisedLimit int
	listErr      map[string]error // by request path
	removeErr    error

	requests []storage.ListRequest
	served   map[string]int // times each path was returned
	removes  [][]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		files:    make(map[int64]map[string]storage.FileEntry),
		pageSize: 1000,
		listErr:  make(map[string]error),
		served:   make(map[string]int),
	}
}

func (f *fakeStorage) put(tenantID int64, entries ...storage.FileEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[tenantID] == nil {
		f.files[tenantID] = make(map[string]storage.FileEntry)
	}
	for _, e := range entries {
		f.files[tenantID][e.Path] = e
	}
}

func (f *fakeStorage) has(tenantID int64, p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[tenantID][p]
	return ok
}

func (f *fakeStorage) count(tenantID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files[tenantID])
}

func (f *fakeStorage) listRequests() []storage.ListRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.ListRequest(nil), f.requests...)
}

func (f *fakeStorage) ListPage(ctx context.Context, tenantID int64, req storage.ListRequest) (storage.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if err := f.listErr[req.Path]; err != nil {
		return storage.ListPage{}, err
	}
	if f.maxLimit > 0 && req.Limit > f.maxLimit {
		return storage.ListPage{}, &storage.LimitExceededError{Requested: req.Limit, AdvisedMax: f.advisedLimit}
	}

	after, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		return storage.ListPage{}, err
	}

	var matched []storage.FileEntry
	for p, e := range f.files[tenantID] {
		if strings.HasPrefix(p, req.Path) && p > after {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })

	size := f.pageSize
	if req.Limit > 0 && req.Limit < size {
		size = req.Limit
	}

	var page storage.ListPage
	if len(matched) > size {
		matched = matched[:size]
		page.NextCursor = storage.CursorAfter(matched[size-1].Path)
	}
	for _, e := range matched {
		f.served[e.Path]++
	}
	page.Entries = matched
	return page, nil
}

func (f *fakeStorage) IsOnAgent(p string) bool {
	return strings.HasPrefix(p, "agent://")
}

func (f *fakeStorage) RemoveBatch(ctx context.Context, tenantID int64, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, append([]string(nil), paths...))
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, p := range paths {
		delete(f.files[tenantID], p)
	}
	return nil
}

type fakeDirectory struct {
	tenants      []storage.Tenant
	perPage      int
	workspaces   map[int64][]int64
	workspaceErr error
	pageErr      map[int]error
}

func (d *fakeDirectory) ListTenants(ctx context.Context, page int) (storage.TenantPage, error) {
	if err := d.pageErr[page]; err != nil {
		return storage.TenantPage{}, err
	}
	perPage := d.perPage
	if perPage <= 0 {
		perPage = 500
	}
	start := min((page-1)*perPage, len(d.tenants))
	end := min(start+perPage, len(d.tenants))
	return storage.TenantPage{
		Tenants:    d.tenants[start:end],
		PagesCount: (len(d.tenants) + perPage - 1) / perPage,
	}, nil
}

func (d *fakeDirectory) GetTenant(ctx context.Context, id int64) (storage.Tenant, error) {
	for _, t := range d.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return storage.Tenant{}, storage.ErrTenantNotFound
}

func (d *fakeDirectory) ListWorkspaces(ctx context.Context, tenantID int64) ([]int64, error) {
	if d.workspaceErr != nil {
		return nil, d.workspaceErr
	}
	return d.workspaces[tenantID], nil
}

type taskCall struct {
	workspaceID int64
	ids         []int64
}

type fakeTasks struct {
	mu       sync.Mutex
	tasks    map[int64][]storage.Task // by workspace
	failures map[int64]int            // workspace -> remaining failures
	calls    []taskCall
}

func (f *fakeTasks) GetTasksByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, taskCall{workspaceID: workspaceID, ids: append([]int64(nil), ids...)})

	if f.failures[workspaceID] > 0 {
		f.failures[workspaceID]--
		return nil, errBoom
	}

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []storage.Task
	for _, t := range f.tasks[workspaceID] {
		if _, ok := want[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type errString string

func (e errString) Error() string { return string(e) }

const errBoom = errString("boom")
