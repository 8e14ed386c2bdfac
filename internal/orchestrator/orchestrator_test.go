package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/config"
	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/promptsynth"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
)

func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestOrchestrator(t *testing.T, cliBody string) (*Orchestrator, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orch.db")
	st, err := store.Open(context.Background(), dbPath, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cli := fakeCLI(t, cliBody)
	rnr := runner.New(cli, slog.Default())
	cfg := &config.Config{MaxWorkers: 2, MaxRetries: 1, SkipTest: false}

	return New(st, rnr, promptsynth.TemplateSynthesizer{}, cfg, dbPath), st
}

func writeJSONFile(t *testing.T, items string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(items), 0o644))
	return path
}

func TestCreateJob_FileEnumerator(t *testing.T) {
	o, st := newTestOrchestrator(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))

	result, err := o.CreateJob(context.Background(), CreateJobParams{
		Name:           "test job",
		UserIntent:     "summarize each file",
		EnumeratorType: "file",
		EnumeratorSettings: map[string]any{
			"pattern": filepath.Join(dir, "*.txt"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalItems)
	assert.Contains(t, result.WorkerPrompt, "{file_path}")

	job, err := st.GetJob(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCreated, job.Status)
	assert.Equal(t, 2, job.TotalUnits)
}

func TestCreateJob_NoItemsFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, `true`)
	_, err := o.CreateJob(context.Background(), CreateJobParams{
		Name:           "empty job",
		UserIntent:     "do nothing",
		EnumeratorType: "file",
		EnumeratorSettings: map[string]any{
			"pattern": filepath.Join(t.TempDir(), "*.nope"),
		},
	})
	require.Error(t, err)
}

func TestStartJob_TestPhaseThenApprove(t *testing.T) {
	o, st := newTestOrchestrator(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)

	jsonPath := writeJSONFile(t, `[{"id":1},{"id":2}]`)
	created, err := o.CreateJob(context.Background(), CreateJobParams{
		Name:           "json job",
		UserIntent:     "process each record",
		EnumeratorType: "json",
		EnumeratorSettings: map[string]any{
			"path": jsonPath,
		},
	})
	require.NoError(t, err)

	testResult, err := o.StartJob(context.Background(), created.JobID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "testing", testResult.Status)
	assert.True(t, testResult.TestPassed)

	job, err := st.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobTesting, job.Status)

	approve := true
	startResult, err := o.StartJob(context.Background(), created.JobID, &approve, false)
	require.NoError(t, err)
	assert.Equal(t, "started", startResult.Status)
	assert.NotZero(t, startResult.ExecutorPID)

	job, err = st.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)
}

func TestStartJob_SkipTestGoesStraightToRunning(t *testing.T) {
	o, st := newTestOrchestrator(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)
	jsonPath := writeJSONFile(t, `[{"id":1}]`)
	created, err := o.CreateJob(context.Background(), CreateJobParams{
		Name: "skip-test job", UserIntent: "go", EnumeratorType: "json",
		EnumeratorSettings: map[string]any{"path": jsonPath},
	})
	require.NoError(t, err)

	result, err := o.StartJob(context.Background(), created.JobID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "started", result.Status)

	job, err := st.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)
}

func TestBypassFailures_RequiresAllUnitsDoneAndSomeFailures(t *testing.T) {
	o, st := newTestOrchestrator(t, `true`)
	ctx := context.Background()

	prompt := "synthesize a report"
	job := &domain.Job{
		ID: domain.NewJobID(), Name: "j", Status: domain.JobRunning,
		TotalUnits: 2, CompletedUnits: 1, FailedUnits: 1,
		PostProcessingPrompt: &prompt, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	result, err := o.BypassFailures(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedUnits)

	_, err = o.BypassFailures(ctx, job.ID)
	assert.Error(t, err, "bypass should not be enabled twice")
}

func TestStartJob_RejectTestPhaseResetsTestUnitToPending(t *testing.T) {
	o, st := newTestOrchestrator(t, `echo '{"type":"result","is_error":false,"result":"ok"}'`)
	ctx := context.Background()

	jsonPath := writeJSONFile(t, `[{"id":1},{"id":2}]`)
	created, err := o.CreateJob(ctx, CreateJobParams{
		Name:           "json job",
		UserIntent:     "process each record",
		EnumeratorType: "json",
		EnumeratorSettings: map[string]any{
			"path": jsonPath,
		},
	})
	require.NoError(t, err)

	testResult, err := o.StartJob(ctx, created.JobID, nil, false)
	require.NoError(t, err)
	require.True(t, testResult.TestPassed)
	testUnitID := *testResult.TestUnitID

	unit, err := st.GetWorkUnit(ctx, testUnitID)
	require.NoError(t, err)
	require.Equal(t, domain.UnitCompleted, unit.Status)

	job, err := st.GetJob(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, job.CompletedUnits)

	approve := false
	resetResult, err := o.StartJob(ctx, created.JobID, &approve, false)
	require.NoError(t, err)
	assert.Equal(t, "reset", resetResult.Status)

	job, err = st.GetJob(ctx, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCreated, job.Status)
	assert.False(t, job.TestPassed)
	assert.Equal(t, 0, job.CompletedUnits)
	assert.Nil(t, job.TestUnitID)

	unit, err = st.GetWorkUnit(ctx, testUnitID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitPending, unit.Status)
	assert.Nil(t, unit.Result)
	assert.Nil(t, unit.CompletedAt)

	pending, err := st.GetPendingUnits(ctx, created.JobID, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "the ex-test unit must be pending again, not skipped")
}

func TestKillJob_NoExecutorPID(t *testing.T) {
	o, st := newTestOrchestrator(t, `true`)
	ctx := context.Background()

	job := &domain.Job{ID: domain.NewJobID(), Name: "j", Status: domain.JobRunning, CreatedAt: time.Now(), Metadata: map[string]string{}}
	require.NoError(t, st.CreateJob(ctx, job))

	_, err := o.KillJob(ctx, job.ID)
	assert.Error(t, err)
}
