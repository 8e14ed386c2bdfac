package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/domain"
)

func newTestStore(t *testing.T) *DuckDBStore {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir()+"/test.db", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_JobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &domain.Job{
		ID:                   domain.NewJobID(),
		Name:                 "process invoices",
		WorkerPromptTemplate: "process {file_path}",
		UnitType:             "file",
		TotalUnits:           3,
		MaxWorkers:           4,
		MaxRetries:           3,
		Status:               domain.JobCreated,
		CreatedAt:            time.Now().UTC(),
		Metadata:             map[string]string{"source": "test"},
	}
	require.NoError(t, s.CreateJob(ctx, job))

	fetched, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, fetched.Name)
	assert.Equal(t, "test", fetched.Metadata["source"])

	job.Status = domain.JobTesting
	ok, err := s.UpdateJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)

	// an illegal jump is rejected, not silently applied
	badJob := *job
	badJob.Status = domain.JobCompleted
	// current stored status is "testing"; testing->completed is illegal
	ok, err = s.UpdateJob(ctx, &badJob)
	require.NoError(t, err)
	assert.False(t, ok)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_WorkUnitLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &domain.Job{ID: domain.NewJobID(), Name: "j", Status: domain.JobCreated, CreatedAt: time.Now(), WorkerPromptTemplate: "x", UnitType: "file"}
	require.NoError(t, s.CreateJob(ctx, job))

	unit := &domain.WorkUnit{
		ID:         domain.NewUnitID(),
		JobID:      job.ID,
		UnitType:   "file",
		Status:     domain.UnitPending,
		Payload:    domain.Payload{{Key: "file_path", Value: "/tmp/a.txt"}},
		CreatedAt:  time.Now().UTC(),
		MaxRetries: 3,
	}
	require.NoError(t, s.CreateWorkUnit(ctx, unit))

	pending, err := s.GetPendingUnits(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	unit.Status = domain.UnitAssigned
	ok, err := s.UpdateWorkUnit(ctx, unit)
	require.NoError(t, err)
	assert.True(t, ok)

	counts, err := s.CountUnitsByStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.UnitAssigned])

	require.NoError(t, s.SetUnitProcessID(ctx, unit.ID, 12345))
	require.NoError(t, s.AppendConversationEvent(ctx, unit.ID, domain.ConversationEvent{Type: "assistant", Raw: []byte(`{"type":"assistant"}`)}))

	got, err := s.GetWorkUnit(ctx, unit.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, 12345, *got.ProcessID)
	require.Len(t, got.Conversation, 1)
}

func TestStore_CleanupStaleWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := domain.NewJobID()

	pid := 999999 // unlikely to be a live PID
	w := &domain.Worker{ID: domain.NewWorkerID(), Status: domain.WorkerBusy, JobID: &jobID, ProcessID: &pid, StartedAt: time.Now()}
	require.NoError(t, s.CreateWorker(ctx, w))

	n, err := s.CleanupStaleWorkers(ctx, jobID, func(pid int) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerTerminated, got.Status)
}

func TestStore_ResetStuckUnits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := domain.NewJobID()

	unit := &domain.WorkUnit{ID: domain.NewUnitID(), JobID: jobID, UnitType: "file", Status: domain.UnitProcessing, CreatedAt: time.Now()}
	require.NoError(t, s.CreateWorkUnit(ctx, unit))

	n, err := s.ResetStuckUnits(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetWorkUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitPending, got.Status)
}

func TestStore_LogsAndJMESPathFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := domain.NewJobID()

	require.NoError(t, s.AppendLog(ctx, &domain.LogEntry{
		JobID: jobID, Source: "runner", Level: "info", Message: "started",
		Extra: map[string]any{"cost_usd": 0.02}, Timestamp: time.Now(),
	}))
	require.NoError(t, s.AppendLog(ctx, &domain.LogEntry{
		JobID: jobID, Source: "runner", Level: "error", Message: "timed out",
		Extra: map[string]any{"cost_usd": 0.0}, Timestamp: time.Now(),
	}))

	entries, err := s.QueryLogs(ctx, jobID, domain.LogFilter{Level: "error"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "timed out", entries[0].Message)

	filtered, err := s.QueryLogs(ctx, jobID, domain.LogFilter{JMESPath: "cost_usd > `0`"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "started", filtered[0].Message)
}
