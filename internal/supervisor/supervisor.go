// Package supervisor is the Job Executor: the detached process that
// owns one job's dispatch loop from start to terminal status, grounded
// on the Python original's core/job_executor.py.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/pool"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
)

const pendingPageSize = 20

type Supervisor struct {
	st     store.Store
	pool   *pool.Pool
	rnr    *runner.Runner
	logger *slog.Logger

	agentModel    string
	agentMaxTurns int
	unitTimeout   time.Duration
}

type Options struct {
	AgentModel    string
	AgentMaxTurns int
	UnitTimeout   time.Duration
}

func New(st store.Store, p *pool.Pool, rnr *runner.Runner, logger *slog.Logger, opts Options) *Supervisor {
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = runner.DefaultTimeout
	}
	return &Supervisor{
		st: st, pool: p, rnr: rnr, logger: logger,
		agentModel: opts.AgentModel, agentMaxTurns: opts.AgentMaxTurns, unitTimeout: opts.UnitTimeout,
	}
}

// Run drives jobID from its current status through to a terminal
// status (completed/failed) or paused, if asked to stop gracefully.
// It does not itself guard against another process already running
// the same job: ResumeJob and RestartJob check for a live executor
// before spawning a second Run.
func (sv *Supervisor) Run(ctx context.Context, jobID domain.JobID) (err error) {
	flag, cleanupSignals := installSignals()
	defer cleanupSignals()

	job, err := sv.st.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	// Stop the Pool on every exit path, not just the clean one: a
	// cancelled ctx must not skip terminating workers this run created,
	// so this uses a detached context rather than the one that may have
	// just been cancelled.
	defer sv.pool.Stop(context.Background())

	defer func() {
		if r := recover(); r != nil {
			sv.logger.Error("job executor panicked", "job_id", jobID, "panic", r)
			sv.markCrashed(ctx, job, fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
			err = fmt.Errorf("job executor panicked: %v", r)
		}
	}()

	if n, cerr := sv.st.CleanupStaleWorkers(ctx, jobID, IsAlive); cerr != nil {
		sv.logger.Warn("cleanup stale workers failed", "error", cerr)
	} else if n > 0 {
		sv.logger.Info("cleaned up stale workers", "job_id", jobID, "count", n)
	}
	if n, rerr := sv.st.ResetStuckUnits(ctx, jobID); rerr != nil {
		sv.logger.Warn("reset stuck units failed", "error", rerr)
	} else if n > 0 {
		sv.logger.Info("reset stuck units", "job_id", jobID, "count", n)
	}

	if job.Status != domain.JobRunning {
		job.Status = domain.JobRunning
		now := time.Now().UTC()
		job.StartedAt = &now
		if _, uerr := sv.st.UpdateJob(ctx, job); uerr != nil {
			return fmt.Errorf("mark job running: %w", uerr)
		}
	}

	if stopErr := sv.dispatchLoop(ctx, job, flag); stopErr != nil {
		sv.markCrashed(ctx, job, stopErr.Error())
		return stopErr
	}

	sv.pool.WaitForCompletion()

	if flag.shouldStop() {
		return sv.finalizePaused(ctx, job)
	}

	if err := sv.refreshCounts(ctx, job); err != nil {
		return err
	}

	if triggered, perr := sv.maybeRunPostProcessing(ctx, job, flag); perr != nil {
		return perr
	} else if triggered {
		sv.pool.WaitForCompletion()
	}

	return sv.finalize(ctx, job)
}

// dispatchLoop pages through pending units, submitting each to the pool
// once a slot is available, polling for cancellation between attempts
// exactly as the Python original's wait_for_available_slot/stop_requested
// loop does. It returns once there is nothing pending and nothing
// in-flight, or the stop flag is set.
func (sv *Supervisor) dispatchLoop(ctx context.Context, job *domain.Job, flag *stopFlag) error {
	for {
		if flag.shouldStop() {
			return nil
		}

		pending, err := sv.st.GetPendingUnits(ctx, job.ID, pendingPageSize)
		if err != nil {
			return fmt.Errorf("fetch pending units: %w", err)
		}
		if len(pending) == 0 {
			if sv.pool.ActiveCount() == 0 {
				return nil
			}
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, unit := range pending {
			if flag.shouldStop() {
				return nil
			}
			for !sv.pool.WaitForAvailableSlot(ctx, time.Second) {
				if flag.shouldStop() {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}

			opts := runner.Options{
				Timeout:  sv.unitTimeout,
				Model:    sv.agentModel,
				MaxTurns: sv.agentMaxTurns,
				AddDirs:  addDirsFor(unit.Payload),
			}
			hooks := pool.Hooks{OnFailed: sv.onUnitFailed(ctx)}
			if err := sv.pool.Submit(ctx, unit, job.WorkerPromptTemplate, opts, hooks); err != nil {
				sv.logger.Error("submit unit failed", "error", err, "unit_id", unit.ID)
			}
		}
	}
}

// onUnitFailed implements the Python original's retry-vs-terminal
// branch: can_retry() sends the unit back to pending with its counter
// bumped; otherwise it stays failed and is counted terminally.
// restart_work_unit in the original deliberately does not reset
// retry_count when a human manually restarts a unit either — only this
// automatic path increments it.
func (sv *Supervisor) onUnitFailed(ctx context.Context) func(domain.WorkUnit) {
	return func(unit domain.WorkUnit) {
		if !unit.CanRetry() {
			return
		}
		unit.RetryCount++
		unit.Status = domain.UnitPending
		unit.WorkerID = nil
		unit.AssignedAt = nil
		unit.StartedAt = nil
		unit.CompletedAt = nil
		unit.Error = nil
		if ok, err := sv.st.UpdateWorkUnit(ctx, &unit); err != nil || !ok {
			sv.logger.Error("requeue retried unit failed", "error", err, "unit_id", unit.ID, "applied", ok)
		}
	}
}

// maybeRunPostProcessing implements the Python original's post-processing
// gate: it fires once, after every regular unit has resolved, only when
// the job actually has a post-processing prompt configured and either
// every unit succeeded or the job was started with bypass_failures set.
// It synthesizes a single extra WorkUnit carrying the run's outcome
// summary as its payload and runs it through the same pool as any other
// unit. It is submitted without retry hooks, so a failed post-processing
// unit is not retried.
func (sv *Supervisor) maybeRunPostProcessing(ctx context.Context, job *domain.Job, flag *stopFlag) (bool, error) {
	if job.PostProcessingPrompt == nil || *job.PostProcessingPrompt == "" {
		return false, nil
	}
	if job.PostProcessingUnitID != nil {
		return false, nil
	}
	ready := job.FailedUnits == 0 || job.BypassFailures
	if !ready || flag.shouldStop() {
		return false, nil
	}

	unit := domain.WorkUnit{
		ID:         domain.NewUnitID(),
		JobID:      job.ID,
		UnitType:   "post_processing",
		Status:     domain.UnitPending,
		MaxRetries: job.MaxRetries,
		CreatedAt:  time.Now().UTC(),
		Payload: domain.PayloadFromMap(map[string]any{
			"job_name":        job.Name,
			"total_units":     job.TotalUnits,
			"completed_units": job.CompletedUnits,
			"failed_units":    job.FailedUnits,
			"bypass_failures": job.BypassFailures,
		}),
	}
	if err := sv.st.CreateWorkUnit(ctx, &unit); err != nil {
		return false, fmt.Errorf("create post-processing unit: %w", err)
	}

	job.PostProcessingUnitID = &unit.ID
	job.Status = domain.JobPostProcessing
	if _, err := sv.st.UpdateJob(ctx, job); err != nil {
		return false, fmt.Errorf("persist post-processing start: %w", err)
	}

	if !sv.pool.WaitForAvailableSlot(ctx, 30*time.Second) {
		return false, fmt.Errorf("no worker slot available for post-processing unit")
	}
	opts := runner.Options{
		Timeout:  sv.unitTimeout,
		Model:    sv.agentModel,
		MaxTurns: sv.agentMaxTurns,
	}
	prompt := *job.PostProcessingPrompt
	if err := sv.pool.Submit(ctx, unit, prompt, opts, pool.Hooks{}); err != nil {
		return false, fmt.Errorf("submit post-processing unit: %w", err)
	}
	return true, nil
}

func addDirsFor(payload domain.Payload) []string {
	var dirs []string
	if v, ok := payload.Get("file_path"); ok {
		if s, ok := v.(string); ok && s != "" {
			dirs = append(dirs, parentDir(s))
		}
	}
	if v, ok := payload.Get("output_directory"); ok {
		if s, ok := v.(string); ok && s != "" {
			dirs = append(dirs, s)
		}
	}
	return dedupe(dirs)
}

func (sv *Supervisor) refreshCounts(ctx context.Context, job *domain.Job) error {
	counts, err := sv.st.CountUnitsByStatus(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("recount units: %w", err)
	}
	job.CompletedUnits = counts[domain.UnitCompleted]
	job.FailedUnits = counts[domain.UnitFailed]
	return nil
}

func (sv *Supervisor) finalizePaused(ctx context.Context, job *domain.Job) error {
	job.Status = domain.JobPaused
	if _, err := sv.st.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist paused job: %w", err)
	}
	return nil
}

// finalize decides between completed and failed by walking the same
// tree the Python original's _determine_final_status does: a failed
// post-processing unit always fails the job outright; otherwise the
// job completes if every regular unit succeeded (with no post-
// processing unit, or one that itself succeeded), or if bypass_failures
// was set and the post-processing unit succeeded. Any other outcome —
// regular-unit failures with no bypass, or a missing/incomplete
// post-processing unit — fails the job.
func (sv *Supervisor) finalize(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CompletedAt = &now

	var postUnit *domain.WorkUnit
	if job.PostProcessingUnitID != nil {
		u, err := sv.st.GetWorkUnit(ctx, *job.PostProcessingUnitID)
		if err != nil {
			return fmt.Errorf("load post-processing unit: %w", err)
		}
		postUnit = u
	}

	switch {
	case postUnit != nil && postUnit.Status == domain.UnitFailed:
		job.Status = domain.JobFailed
	case job.AllSucceeded() && (postUnit == nil || postUnit.Status == domain.UnitCompleted):
		job.Status = domain.JobCompleted
	case job.BypassFailures && postUnit != nil && postUnit.Status == domain.UnitCompleted:
		job.Status = domain.JobCompleted
	default:
		job.Status = domain.JobFailed
	}

	if _, err := sv.st.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final job status: %w", err)
	}
	return nil
}

func (sv *Supervisor) markCrashed(ctx context.Context, job *domain.Job, reason string) {
	job.Status = domain.JobFailed
	now := time.Now().UTC()
	job.CompletedAt = &now
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	job.Metadata["executor_error"] = reason
	if _, err := sv.st.UpdateJob(ctx, job); err != nil {
		sv.logger.Error("persist crashed job status failed", "error", err)
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
