package pool

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
)

func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir()+"/pool.db", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPool_SubmitRunsUnitAndRespectsCap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cli := fakeCLI(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)
	rnr := runner.New(cli, slog.Default())
	p := New(1, st, rnr, slog.Default())

	jobID := domain.NewJobID()
	var completed []domain.WorkUnit
	var mu sync.Mutex
	hooks := Hooks{OnComplete: func(u domain.WorkUnit) { mu.Lock(); completed = append(completed, u); mu.Unlock() }}

	for i := 0; i < 3; i++ {
		unit := domain.WorkUnit{ID: domain.NewUnitID(), JobID: jobID, UnitType: "file", Status: domain.UnitPending, CreatedAt: time.Now(), MaxRetries: 3}
		require.NoError(t, st.CreateWorkUnit(ctx, &unit))
		require.NoError(t, p.Submit(ctx, unit, "go", runner.Options{Timeout: 5 * time.Second}, hooks))
		assert.LessOrEqual(t, p.ActiveCount(), 1)
	}

	p.WaitForCompletion()
	mu.Lock()
	assert.Len(t, completed, 3)
	mu.Unlock()
}

func TestPool_FailedUnitInvokesOnFailed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cli := fakeCLI(t, `echo '{"type":"result","is_error":true,"result":"boom"}'`)
	rnr := runner.New(cli, slog.Default())
	p := New(2, st, rnr, slog.Default())

	jobID := domain.NewJobID()
	failed := make(chan domain.WorkUnit, 1)
	hooks := Hooks{OnFailed: func(u domain.WorkUnit) { failed <- u }}

	unit := domain.WorkUnit{ID: domain.NewUnitID(), JobID: jobID, UnitType: "file", Status: domain.UnitPending, CreatedAt: time.Now(), MaxRetries: 3}
	require.NoError(t, st.CreateWorkUnit(ctx, &unit))
	require.NoError(t, p.Submit(ctx, unit, "go", runner.Options{Timeout: 5 * time.Second}, hooks))

	select {
	case got := <-failed:
		assert.Equal(t, domain.UnitFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "boom", *got.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure callback")
	}
}

func TestPool_StopTerminatesEveryWorkerItCreated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cli := fakeCLI(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)
	rnr := runner.New(cli, slog.Default())
	p := New(2, st, rnr, slog.Default())

	jobID := domain.NewJobID()
	var completed []domain.WorkUnit
	var mu sync.Mutex
	hooks := Hooks{OnComplete: func(u domain.WorkUnit) { mu.Lock(); completed = append(completed, u); mu.Unlock() }}

	for i := 0; i < 2; i++ {
		unit := domain.WorkUnit{ID: domain.NewUnitID(), JobID: jobID, UnitType: "file", Status: domain.UnitPending, CreatedAt: time.Now(), MaxRetries: 3}
		require.NoError(t, st.CreateWorkUnit(ctx, &unit))
		require.NoError(t, p.Submit(ctx, unit, "go", runner.Options{Timeout: 5 * time.Second}, hooks))
	}

	p.Stop(ctx)

	mu.Lock()
	assert.Len(t, completed, 2)
	mu.Unlock()

	workers, err := st.ListWorkers(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	for _, w := range workers {
		assert.Equal(t, domain.WorkerTerminated, w.Status)
	}
}
