package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bit2swaz/storage-janitor/internal/ratelimit"
	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

func paths(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/tmp/%d", i)
	}
	return out
}

func TestDeleterChunksAndReportsProgress(t *testing.T) {
	fs := newFakeStorage()
	d := NewDeleter(fs, 2, ratelimit.New(100, time.Second), nil)

	var deltas []int
	removed, err := d.RemoveBatch(context.Background(), 1, paths(5), ProgressFunc(func(delta int) {
		deltas = append(deltas, delta)
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, removed)
	assert.Equal(t, []int{2, 2, 1}, deltas)
	require.Len(t, fs.removes, 3)
	assert.Equal(t, []string{"/tmp/4"}, fs.removes[2])
}

func TestDeleterRemoveInChunksCapsChunkSize(t *testing.T) {
	fs := newFakeStorage()
	d := NewDeleter(fs, 3, nil, nil)

	removed, err := d.RemoveInChunks(context.Background(), 1, paths(5), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, [][]string{{"/tmp/0", "/tmp/1"}, {"/tmp/2", "/tmp/3"}, {"/tmp/4"}}, fs.removes)

	fs.removes = nil
	_, err = d.RemoveInChunks(context.Background(), 1, paths(5), 10, nil)
	require.NoError(t, err)
	assert.Len(t, fs.removes, 2, "never larger than the batch size")
}

func TestDeleterCountsNotFoundAsRemoved(t *testing.T) {
	fs := newFakeStorage()
	fs.removeErr = &storage.RemoteError{Op: "remove", StatusCode: 404, Err: storage.ErrNotFound}
	d := NewDeleter(fs, 10, nil, nil)

	removed, err := d.RemoveBatch(context.Background(), 1, paths(3), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestDeleterStopsOnFailureAfterPartialProgress(t *testing.T) {
	fs := &failingRemover{failOn: 2}
	d := NewDeleter(fs, 2, nil, nil)

	progress := 0
	removed, err := d.RemoveBatch(context.Background(), 1, paths(6), ProgressFunc(func(delta int) { progress += delta }))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, progress)
	assert.Equal(t, 2, fs.calls)
}

func TestDeleterHonoursCancellation(t *testing.T) {
	fs := newFakeStorage()
	d := NewDeleter(fs, 2, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	removed, err := d.RemoveBatch(ctx, 1, paths(3), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, removed)
	assert.Empty(t, fs.removes)
}

type failingRemover struct {
	failOn int
	calls  int
}

func (f *failingRemover) RemoveBatch(ctx context.Context, tenantID int64, paths []string) error {
	f.calls++
	if f.calls == f.failOn {
		return errBoom
	}
	return nil
}
