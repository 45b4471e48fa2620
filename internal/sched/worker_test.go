package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunsSweepOnInterval(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{})

	w := NewWorker("test_sweeper", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		if runs.Add(1) == 3 {
			close(done)
		}
		return 1, nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run 3 times within 2s")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestWorker_ContinuesAfterSweepError(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{})

	w := NewWorker("test_sweeper", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		n := runs.Add(1)
		if n == 1 {
			return 0, errors.New("database unavailable")
		}
		if n == 2 {
			close(done)
		}
		return 0, nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case <-done:
		// a failed sweep must not stop the ticker
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after first sweep error")
	}
}

func TestWorker_StopsBeforeFirstTick(t *testing.T) {
	w := NewWorker("test_sweeper", time.Hour, func(ctx context.Context) (int, error) {
		t.Error("sweep must not run before the first tick")
		return 0, nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
