package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// Correlator maps offline-session files to their owning tasks and remembers
// which tasks are removable. One Correlator serves one tenant for one sweep.
// The removable set only grows.
type Correlator struct {
	tasks       storage.TaskService
	apps        map[string]struct{}
	chunkSize   int
	concurrency int
	log         *zap.Logger

	resolved  map[int64]struct{}
	removable TaskSet
}

func NewCorrelator(tasks storage.TaskService, appNames []string, chunkSize, concurrency int, log *zap.Logger) *Correlator {
	apps := make(map[string]struct{}, len(appNames))
	for _, name := range appNames {
		apps[name] = struct{}{}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultTaskChunkSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Correlator{
		tasks:       tasks,
		apps:        apps,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		log:         log,
		resolved:    make(map[int64]struct{}),
		removable:   make(TaskSet),
	}
}

// Removable returns the removable task set. It must not be modified.
func (c *Correlator) Removable() TaskSet {
	return c.removable
}

// Resolve looks up the tasks owning entries listed under root that are not
// resolved yet. Every (chunk, workspace) lookup runs concurrently and all of
// them finish before Resolve returns. Failed lookups are logged; their ids
// stay unresolved and are looked up again on a later call.
func (c *Correlator) Resolve(ctx context.Context, tenantID int64, root string, workspaces []int64, entries []storage.FileEntry) error {
	if c.tasks == nil || len(workspaces) == 0 || len(c.apps) == 0 {
		return nil
	}

	ids := c.pending(root, entries)
	if len(ids) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed = make([]bool, (len(ids)+c.chunkSize-1)/c.chunkSize)
	)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for start := 0; start < len(ids); start += c.chunkSize {
		chunk := ids[start:min(start+c.chunkSize, len(ids))]
		idx := start / c.chunkSize
		for _, workspaceID := range workspaces {
			g.Go(func() error {
				tasks, err := c.tasks.GetTasksByIDs(ctx, workspaceID, chunk)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed[idx] = true
					c.log.Warn("task lookup failed",
						zap.Int64("tenant_id", tenantID), zap.Int64("workspace_id", workspaceID),
						zap.Int("tasks", len(chunk)), zap.Error(err))
					return nil
				}
				for _, task := range tasks {
					if _, ok := c.apps[task.AppName]; ok {
						c.removable[task.ID] = struct{}{}
					}
				}
				return nil
			})
		}
	}
	// Lookups report failures through failed, never through the group.
	g.Wait()

	for i, chunkFailed := range failed {
		if chunkFailed {
			continue
		}
		for _, id := range ids[i*c.chunkSize : min((i+1)*c.chunkSize, len(ids))] {
			c.resolved[id] = struct{}{}
		}
	}
	return ctx.Err()
}

func (c *Correlator) pending(root string, entries []storage.FileEntry) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, entry := range entries {
		id, ok := TaskIDFromPath(root, entry.Path)
		if !ok {
			continue
		}
		if _, done := c.resolved[id]; done {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
