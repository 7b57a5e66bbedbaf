package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bit2swaz/storage-janitor/pkg/observability"
	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// ListOptions selects what a listing returns. A zero Limit with no Cursor
// lists everything, fetching continuation pages concurrently.
type ListOptions struct {
	Recursive      bool
	IncludeFiles   bool
	IncludeFolders bool
	WithMetadata   bool
	Limit          int
	Cursor         string
}

// ListResult is the outcome of one List call. Limit is the page-size limit
// in effect after any renegotiation with the server. Abandoned is set when a
// page was given up after a failed limit retry.
type ListResult struct {
	Entries    []storage.FileEntry
	NextCursor string
	Limit      int
	Abandoned  bool
}

// Lister drives the remote listing call: cursor continuation, the result
// cap and page-size renegotiation.
type Lister struct {
	remote      storage.Lister
	log         *zap.Logger
	metrics     *observability.SweepMetrics
	concurrency int
}

func NewLister(remote storage.Lister, log *zap.Logger, metrics *observability.SweepMetrics, concurrency int) *Lister {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Lister{remote: remote, log: log, metrics: metrics, concurrency: concurrency}
}

// List lists entries under p for a tenant.
func (l *Lister) List(ctx context.Context, tenantID int64, p string, opts ListOptions) (ListResult, error) {
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	var (
		res ListResult
		err error
	)
	if opts.Limit <= 0 && opts.Cursor == "" {
		res, err = l.listAll(ctx, tenantID, p, opts)
	} else {
		res, err = l.listCapped(ctx, tenantID, p, opts)
	}
	if err == nil || ctx.Err() != nil {
		return res, err
	}

	var limitErr *storage.LimitExceededError
	if l.remote.IsOnAgent(p) && !errors.As(err, &limitErr) {
		l.metrics.ListingFailed()
		l.log.Warn("listing on agent storage failed, skipping",
			zap.Int64("tenant_id", tenantID), zap.String("path", p), zap.Error(err))
		return ListResult{Limit: opts.Limit}, nil
	}

	l.metrics.ListingFailed()
	return ListResult{}, fmt.Errorf("list %s of tenant %d: %w", p, tenantID, err)
}

func (l *Lister) request(p string, opts ListOptions, limit int, cursor string) storage.ListRequest {
	return storage.ListRequest{
		Path:           p,
		Recursive:      opts.Recursive,
		IncludeFiles:   opts.IncludeFiles,
		IncludeFolders: opts.IncludeFolders,
		WithMetadata:   opts.WithMetadata,
		Limit:          limit,
		Cursor:         cursor,
	}
}

// listCapped follows cursors sequentially until the cap is reached or the
// listing is exhausted.
func (l *Lister) listCapped(ctx context.Context, tenantID int64, p string, opts ListOptions) (ListResult, error) {
	res := ListResult{Limit: opts.Limit}
	cursor := opts.Cursor

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := l.remote.ListPage(ctx, tenantID, l.request(p, opts, res.Limit, cursor))

		var limitErr *storage.LimitExceededError
		if errors.As(err, &limitErr) {
			res.Limit = advisedLimit(limitErr)
			l.metrics.LimitRenegotiated()
			l.log.Info("list limit rejected, retrying with server limit",
				zap.Int64("tenant_id", tenantID), zap.String("path", p),
				zap.Int("requested", limitErr.Requested), zap.Int("limit", res.Limit))

			page, err = l.remote.ListPage(ctx, tenantID, l.request(p, opts, res.Limit, cursor))
			if err != nil {
				l.metrics.ListingFailed()
				l.log.Error("list retry failed, abandoning page",
					zap.Int64("tenant_id", tenantID), zap.String("path", p),
					zap.Int("limit", res.Limit), zap.Error(err))
				res.Abandoned = true
				res.NextCursor = ""
				return res, nil
			}
		}
		if err != nil {
			return res, err
		}

		res.Entries = append(res.Entries, page.Entries...)
		res.NextCursor = page.NextCursor

		if res.Limit > 0 && len(res.Entries) >= res.Limit {
			res.Entries = res.Entries[:res.Limit]
			res.NextCursor = ""
			return res, nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			res.NextCursor = ""
			return res, nil
		}
		cursor = page.NextCursor
	}
}

func advisedLimit(err *storage.LimitExceededError) int {
	if err.AdvisedMax > 0 {
		return err.AdvisedMax
	}
	return DefaultAdvisedLimit
}

// listAll fetches every page. Each continuation token starts a fetch as soon
// as it is known; entries are merged in arrival order.
func (l *Lister) listAll(ctx context.Context, tenantID int64, p string, opts ListOptions) (ListResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(l.concurrency))

	var (
		mu      sync.Mutex
		entries []storage.FileEntry
		seen    = map[string]struct{}{"": {}}
	)

	var fetch func(cursor string) func() error
	fetch = func(cursor string) func() error {
		return func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			page, err := l.remote.ListPage(gctx, tenantID, l.request(p, opts, 0, cursor))
			sem.Release(1)
			if err != nil {
				return err
			}

			mu.Lock()
			entries = append(entries, page.Entries...)
			_, dup := seen[page.NextCursor]
			if !dup {
				seen[page.NextCursor] = struct{}{}
			}
			mu.Unlock()

			if !dup {
				g.Go(fetch(page.NextCursor))
			}
			return nil
		}
	}

	g.Go(fetch(""))
	if err := g.Wait(); err != nil {
		return ListResult{}, err
	}
	return ListResult{Entries: entries}, nil
}
