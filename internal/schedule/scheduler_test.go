package schedule

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestStartRunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(time.Hour, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run on start")
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	<-started

	assert.True(t, s.Running())
	assert.False(t, s.Trigger())

	close(release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
	assert.False(t, s.Trigger())
}

func TestStopCancelsActiveSweep(t *testing.T) {
	started := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStopTimesOut(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	s := New(time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStartTwiceAndBadInterval(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	s := New(time.Hour, noop, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Error(t, s.Stop(context.Background()))

	assert.Error(t, New(0, noop, nil).Start(context.Background()))
}

func TestCronLoggerWritesErrors(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.DebugLevel)
	l := cronLogger{log: zap.New(core).Sugar()}

	l.Info("schedule", "entry", 1)
	l.Error(errors.New("panic"), "recovered", "entry", 1)

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"msg":"recovered"`)
	assert.Contains(t, out, `"error":"panic"`)
}
