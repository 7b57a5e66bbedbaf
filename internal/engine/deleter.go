package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bit2swaz/storage-janitor/internal/ratelimit"
	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// ProgressObserver is told how many paths each deletion chunk removed.
type ProgressObserver interface {
	OnProgress(delta int)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(delta int)

func (f ProgressFunc) OnProgress(delta int) { f(delta) }

// Deleter removes paths in chunks of at most batchSize.
type Deleter struct {
	remover   storage.Remover
	batchSize int
	limiter   *ratelimit.Limiter
	log       *zap.Logger
}

// NewDeleter builds a Deleter. limiter may be nil.
func NewDeleter(remover storage.Remover, batchSize int, limiter *ratelimit.Limiter, log *zap.Logger) *Deleter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Deleter{remover: remover, batchSize: batchSize, limiter: limiter, log: log}
}

// RemoveBatch deletes paths and returns how many were removed. A chunk the
// remote reports as already gone counts as removed. Any other failure stops
// the deletion; chunks already issued stay deleted.
func (d *Deleter) RemoveBatch(ctx context.Context, tenantID int64, paths []string, observer ProgressObserver) (int, error) {
	return d.RemoveInChunks(ctx, tenantID, paths, d.batchSize, observer)
}

// RemoveInChunks is RemoveBatch with chunks of at most size paths. A size
// that is not positive or exceeds the configured batch size uses the batch
// size.
func (d *Deleter) RemoveInChunks(ctx context.Context, tenantID int64, paths []string, size int, observer ProgressObserver) (int, error) {
	if size <= 0 || size > d.batchSize {
		size = d.batchSize
	}

	removed := 0
	for start := 0; start < len(paths); start += size {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, tenantID); err != nil {
				return removed, err
			}
		}

		chunk := paths[start:min(start+size, len(paths))]
		err := d.remover.RemoveBatch(ctx, tenantID, chunk)
		if errors.Is(err, storage.ErrNotFound) {
			d.log.Debug("chunk already removed", zap.Int64("tenant_id", tenantID), zap.Int("paths", len(chunk)))
			err = nil
		}
		if err != nil {
			return removed, fmt.Errorf("remove %d paths of tenant %d: %w", len(chunk), tenantID, err)
		}

		removed += len(chunk)
		if observer != nil {
			observer.OnProgress(len(chunk))
		}
	}
	return removed, nil
}
