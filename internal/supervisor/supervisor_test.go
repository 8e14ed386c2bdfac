package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir()+"/supervisor.db", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFinalize_AllSucceededNoPostProcessing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sv := &Supervisor{st: st, logger: slog.Default()}

	job := &domain.Job{ID: domain.NewJobID(), Name: "j", Status: domain.JobRunning, TotalUnits: 2, CompletedUnits: 2, CreatedAt: time.Now()}
	require.NoError(t, st.CreateJob(ctx, job))

	require.NoError(t, sv.finalize(ctx, job))
	assert.Equal(t, domain.JobCompleted, job.Status)
}

func TestFinalize_FailedUnitsNoBypass(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sv := &Supervisor{st: st, logger: slog.Default()}

	job := &domain.Job{ID: domain.NewJobID(), Name: "j", Status: domain.JobRunning, TotalUnits: 2, CompletedUnits: 1, FailedUnits: 1, CreatedAt: time.Now()}
	require.NoError(t, st.CreateJob(ctx, job))

	require.NoError(t, sv.finalize(ctx, job))
	assert.Equal(t, domain.JobFailed, job.Status)
}

func TestFinalize_BypassWithSuccessfulPostProcessingCompletes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sv := &Supervisor{st: st, logger: slog.Default()}

	job := &domain.Job{
		ID: domain.NewJobID(), Name: "j", Status: domain.JobPostProcessing,
		TotalUnits: 2, CompletedUnits: 1, FailedUnits: 1, BypassFailures: true, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	postUnit := domain.WorkUnit{ID: domain.NewUnitID(), JobID: job.ID, UnitType: "post_processing", Status: domain.UnitPending, CreatedAt: time.Now()}
	require.NoError(t, st.CreateWorkUnit(ctx, &postUnit))
	for _, status := range []domain.WorkUnitStatus{domain.UnitAssigned, domain.UnitProcessing, domain.UnitCompleted} {
		postUnit.Status = status
		ok, err := st.UpdateWorkUnit(ctx, &postUnit)
		require.NoError(t, err)
		require.True(t, ok)
	}
	job.PostProcessingUnitID = &postUnit.ID

	require.NoError(t, sv.finalize(ctx, job))
	assert.Equal(t, domain.JobCompleted, job.Status, "bypass + successful post-processing must complete, not fail")
}

func TestFinalize_AllSucceededButPostProcessingFailed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sv := &Supervisor{st: st, logger: slog.Default()}

	job := &domain.Job{
		ID: domain.NewJobID(), Name: "j", Status: domain.JobPostProcessing,
		TotalUnits: 2, CompletedUnits: 2, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	postUnit := domain.WorkUnit{ID: domain.NewUnitID(), JobID: job.ID, UnitType: "post_processing", Status: domain.UnitPending, CreatedAt: time.Now()}
	require.NoError(t, st.CreateWorkUnit(ctx, &postUnit))
	postUnit.Status = domain.UnitFailed
	ok, err := st.UpdateWorkUnit(ctx, &postUnit)
	require.NoError(t, err)
	require.True(t, ok)
	job.PostProcessingUnitID = &postUnit.ID

	require.NoError(t, sv.finalize(ctx, job))
	assert.Equal(t, domain.JobFailed, job.Status, "a failed post-processing unit must fail the job even though every regular unit succeeded")
}
