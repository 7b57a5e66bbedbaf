package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucsky/cuid"
	"go.uber.org/zap"

	"github.com/bit2swaz/storage-janitor/internal/ratelimit"
	"github.com/bit2swaz/storage-janitor/pkg/observability"
	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// State is the phase a Sweeper is in.
type State int32

const (
	Idle State = iota
	ListingFixedDirs
	ListingSessionDir
	Deleting
	Reporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ListingFixedDirs:
		return "listing_fixed_dirs"
	case ListingSessionDir:
		return "listing_session_dir"
	case Deleting:
		return "deleting"
	case Reporting:
		return "reporting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrSweepRunning is returned when Sweep is called while a sweep is active.
var ErrSweepRunning = errors.New("sweep already running")

// Deps are the collaborators a Sweeper works with.
type Deps struct {
	Directory storage.Directory
	Storage   storage.Driver
	Tasks     storage.TaskService

	Limiter  *ratelimit.Limiter
	Metrics  *observability.SweepMetrics
	Logger   *zap.Logger
	Observer ProgressObserver
}

// Sweeper runs full sweeps over the configured tenants.
type Sweeper struct {
	settings  Settings
	directory storage.Directory
	tasks     storage.TaskService
	lister    *Lister
	deleter   *Deleter
	limiter   *ratelimit.Limiter
	metrics   *observability.SweepMetrics
	observer  ProgressObserver
	log       *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	running atomic.Bool

	mu   sync.Mutex
	last *SweepStats
}

func NewSweeper(settings Settings, deps Deps) (*Sweeper, error) {
	settings = settings.normalize()
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("tenant directory is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if _, err := NewClassifier(time.Time{}, settings.Extensions, settings.KeepPatterns); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Sweeper{
		settings:  settings,
		directory: deps.Directory,
		tasks:     deps.Tasks,
		lister:    NewLister(deps.Storage, log.Named("lister"), deps.Metrics, settings.Concurrency),
		deleter:   NewDeleter(deps.Storage, settings.BatchSize, deps.Limiter, log.Named("deleter")),
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		observer:  deps.Observer,
		log:       log,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current phase.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

func (s *Sweeper) setState(st State) {
	s.state.Store(int32(st))
}

// LastStats returns the summary of the last finished sweep.
func (s *Sweeper) LastStats() (SweepStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SweepStats{}, false
	}
	return *s.last, true
}

// Sweep runs one pass over every configured tenant. Tenant failures are
// logged and counted; only tenant enumeration errors and cancellation are
// returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepStats{}, ErrSweepRunning
	}
	defer s.running.Store(false)
	defer s.setState(Idle)

	stats := SweepStats{ID: cuid.New(), StartedAt: s.now(), DryRun: s.settings.DryRun}
	log := s.log.With(zap.String("sweep_id", stats.ID))

	classifier, err := NewClassifier(s.settings.Cutoff(stats.StartedAt), s.settings.Extensions, s.settings.KeepPatterns)
	if err != nil {
		return stats, err
	}

	tenants, err := s.tenants(ctx)
	if err != nil {
		return stats, err
	}
	log.Info("sweep started",
		zap.Int("tenants", len(tenants)),
		zap.Time("cutoff", classifier.Cutoff()),
		zap.Bool("dry_run", s.settings.DryRun))

	var sweepErr error
	for i, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			sweepErr = err
			break
		}

		ts := s.sweepTenant(ctx, tenant, classifier, log)
		if ts.Err != nil {
			if ctx.Err() != nil {
				sweepErr = ctx.Err()
				ts.Err = nil
			} else {
				s.metrics.TenantFailed()
				log.Error("tenant sweep failed", zap.Int64("tenant_id", tenant.ID), zap.Error(ts.Err))
			}
		}
		stats.add(ts)
		if sweepErr != nil {
			break
		}

		if (i+1)%s.settings.ProgressEvery == 0 {
			log.Info("sweep progress",
				zap.Int("tenants_done", i+1),
				zap.Int("tenants_total", len(tenants)),
				zap.Int("files_scanned", stats.FilesScanned),
				zap.Int("files_removed", stats.FilesRemoved))
		}

		if i < len(tenants)-1 {
			if err := s.sleep(ctx, s.settings.TenantDelay); err != nil {
				sweepErr = err
				break
			}
		}
	}

	s.setState(Reporting)
	stats.FinishedAt = s.now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	stats.Cancelled = sweepErr != nil
	s.metrics.SweepFinished(stats.Duration, stats.FinishedAt)

	log.Info("sweep finished",
		zap.Int("tenants", stats.Tenants),
		zap.Int("tenant_failures", stats.TenantFailures),
		zap.Int("files_scanned", stats.FilesScanned),
		zap.Int("files_eligible", stats.FilesEligible),
		zap.Int("files_removed", stats.FilesRemoved),
		zap.Duration("duration", stats.Duration),
		zap.Bool("cancelled", stats.Cancelled))

	s.mu.Lock()
	last := stats
	s.last = &last
	s.mu.Unlock()

	return stats, sweepErr
}

func (s *Sweeper) tenants(ctx context.Context) ([]storage.Tenant, error) {
	if s.settings.AllTenants {
		tenants, err := EnumerateTenants(ctx, s.directory, s.settings.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("enumerate tenants: %w", err)
		}
		return tenants, nil
	}

	tenant, err := s.directory.GetTenant(ctx, s.settings.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %d: %w", s.settings.TenantID, err)
	}
	return []storage.Tenant{tenant}, nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenant storage.Tenant, classifier *Classifier, log *zap.Logger) TenantStats {
	ts := TenantStats{TenantID: tenant.ID}
	log = log.With(zap.Int64("tenant_id", tenant.ID), zap.String("tenant", tenant.Name))
	if s.limiter != nil {
		defer s.limiter.Cleanup()
	}

	workspaces, err := s.directory.ListWorkspaces(ctx, tenant.ID)
	if err != nil {
		log.Warn("failed to list workspaces, sessions fall back to date rules", zap.Error(err))
		workspaces = nil
	}
	correlator := NewCorrelator(s.tasks, s.settings.CleanupAppNames, s.settings.TaskChunkSize,
		s.settings.Concurrency, log.Named("correlator"))

	for _, dir := range s.settings.FixedDirectories {
		if err := s.sweepFixedDir(ctx, tenant.ID, dir, classifier, correlator, workspaces, &ts); err != nil {
			ts.Err = err
			return ts
		}
	}

	if s.settings.SessionsPath != "" {
		if err := s.sweepSessions(ctx, tenant.ID, classifier, correlator, workspaces, &ts); err != nil {
			ts.Err = err
			return ts
		}
	}

	s.setState(Reporting)
	log.Info("tenant swept",
		zap.Int("files_scanned", ts.TotalScanned()),
		zap.Int("files_removed", ts.TotalRemoved()))
	return ts
}

func (s *Sweeper) sweepFixedDir(ctx context.Context, tenantID int64, dir DirectoryTarget, classifier *Classifier,
	correlator *Correlator, workspaces []int64, ts *TenantStats) error {
	s.setState(ListingFixedDirs)

	res, err := s.lister.List(ctx, tenantID, dir.Path, ListOptions{Recursive: true, IncludeFiles: true, WithMetadata: true})
	if err != nil {
		return err
	}
	if dir.Mode == SessionAware {
		if err := correlator.Resolve(ctx, tenantID, dir.Path, workspaces, res.Entries); err != nil {
			return err
		}
	}

	var paths []string
	for _, entry := range res.Entries {
		if classifier.ShouldDelete(entry, dir, correlator.Removable()) {
			paths = append(paths, entry.Path)
		}
	}
	ts.Scanned += len(res.Entries)
	ts.Eligible += len(paths)
	s.metrics.AddScanned(observability.ScopeFixed, len(res.Entries))

	removed, err := s.delete(ctx, tenantID, paths, s.settings.BatchSize)
	ts.Removed += removed
	s.metrics.AddRemoved(observability.ScopeFixed, removed)
	return err
}

// sweepSessions pages through the sessions directory, deleting each page's
// eligible entries before fetching the next one. The next page resumes after
// the last entry that is still present.
func (s *Sweeper) sweepSessions(ctx context.Context, tenantID int64, classifier *Classifier,
	correlator *Correlator, workspaces []int64, ts *TenantStats) error {
	sessions := DirectoryTarget{Path: s.settings.SessionsPath, Mode: SessionAware}
	limit := s.settings.BatchSize
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setState(ListingSessionDir)

		res, err := s.lister.List(ctx, tenantID, s.settings.SessionsPath, ListOptions{
			Recursive:    true,
			IncludeFiles: true,
			WithMetadata: true,
			Limit:        limit,
			Cursor:       cursor,
		})
		if err != nil {
			return err
		}
		if res.Limit > 0 {
			limit = res.Limit
		}
		if res.Abandoned {
			ts.Abandoned++
		}
		if len(res.Entries) == 0 {
			return nil
		}

		if err := correlator.Resolve(ctx, tenantID, sessions.Path, workspaces, res.Entries); err != nil {
			return err
		}

		var paths []string
		lastKept := ""
		for _, entry := range res.Entries {
			if classifier.ShouldDelete(entry, sessions, correlator.Removable()) {
				paths = append(paths, entry.Path)
			} else {
				lastKept = entry.Path
			}
		}
		ts.SessionScanned += len(res.Entries)
		ts.SessionEligible += len(paths)
		s.metrics.AddScanned(observability.ScopeSession, len(res.Entries))

		// A renegotiated listing limit also caps the removal chunk.
		removed, err := s.delete(ctx, tenantID, paths, limit)
		ts.SessionRemoved += removed
		s.metrics.AddRemoved(observability.ScopeSession, removed)
		if err != nil {
			return err
		}

		if res.Abandoned || len(res.Entries) < limit {
			return nil
		}

		// Nothing is deleted in a dry run, so every entry is still present.
		resumeAfter := lastKept
		if resumeAfter == "" || s.settings.DryRun {
			resumeAfter = res.Entries[len(res.Entries)-1].Path
		}
		next := storage.CursorAfter(resumeAfter)
		if next == cursor {
			return nil
		}
		cursor = next
	}
}

func (s *Sweeper) delete(ctx context.Context, tenantID int64, paths []string, chunk int) (int, error) {
	if len(paths) == 0 || s.settings.DryRun {
		return 0, nil
	}
	s.setState(Deleting)
	return s.deleter.RemoveInChunks(ctx, tenantID, paths, chunk, s.observer)
}
