// Package orchestrator is the central coordination layer: job creation
// from an enumerator, the test-phase/approval gate, starting and
// resuming the detached Job Executor, and the kill/bypass commands.
// Grounded on the Python original's core/orchestrator.py — the HTTP API
// is a thin wrapper around this package, exactly as the original's
// MCP server is a thin wrapper around Orchestrator.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aulebatch/kernel/internal/config"
	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/enumerate"
	"github.com/aulebatch/kernel/internal/promptsynth"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
	"github.com/aulebatch/kernel/internal/supervisor"
)

const executorPIDKey = "executor_pid"
const executorStartedAtKey = "executor_started_at"
const executorCompletedAtKey = "executor_completed_at"
const executorErrorKey = "executor_error"
const killedAtKey = "killed_at"
const killReasonKey = "kill_reason"

// CreateJobParams mirrors create_job's parameter list in the original.
type CreateJobParams struct {
	Name                string
	UserIntent          string
	EnumeratorType      string
	EnumeratorSettings  map[string]any
	EnumeratorApproved  bool
	MaxWorkers          int
	MaxRetries          int
	PostProcessingPrompt string
	Metadata            map[string]string
}

// CreateJobResult is what CreateJob reports back to the API layer.
type CreateJobResult struct {
	JobID             domain.JobID
	TotalItems        int
	EnumeratorType    string
	WorkerPrompt      string
	HasPostProcessing bool
}

type Orchestrator struct {
	st         store.Store
	rnr        *runner.Runner
	synth      promptsynth.Synthesizer
	cfg        *config.Config
	storagePath string
}

func New(st store.Store, rnr *runner.Runner, synth promptsynth.Synthesizer, cfg *config.Config, storagePath string) *Orchestrator {
	if synth == nil {
		synth = promptsynth.TemplateSynthesizer{}
	}
	return &Orchestrator{st: st, rnr: rnr, synth: synth, cfg: cfg, storagePath: storagePath}
}

// CreateJob enumerates items, synthesizes the worker prompt, and
// persists the Job plus one WorkUnit per enumerated item.
func (o *Orchestrator) CreateJob(ctx context.Context, p CreateJobParams) (*CreateJobResult, error) {
	enumerator, err := enumerate.Create(p.EnumeratorType)
	if err != nil {
		return nil, err
	}

	cfg := enumerate.Config{Type: p.EnumeratorType, Settings: p.EnumeratorSettings, Approved: p.EnumeratorApproved}
	if err := enumerator.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid enumerator config: %w", err)
	}

	result := enumerator.Enumerate(ctx, cfg)
	if !result.Success {
		return nil, fmt.Errorf("enumeration failed: %s", result.Error)
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("no items found to process")
	}

	workerPrompt, err := o.synth.Synthesize(ctx, p.UserIntent, p.EnumeratorType, result.Items[0])
	if err != nil {
		return nil, fmt.Errorf("synthesize worker prompt: %w", err)
	}

	maxWorkers := p.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = o.cfg.MaxWorkers
	}
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.MaxRetries
	}

	job := &domain.Job{
		ID:                   domain.NewJobID(),
		Name:                 p.Name,
		Description:          p.UserIntent,
		Status:               domain.JobCreated,
		WorkerPromptTemplate: workerPrompt,
		UnitType:             p.EnumeratorType,
		TotalUnits:           len(result.Items),
		MaxWorkers:           maxWorkers,
		MaxRetries:           maxRetries,
		CreatedAt:            time.Now().UTC(),
		Metadata:             p.Metadata,
	}
	if p.PostProcessingPrompt != "" {
		job.PostProcessingPrompt = &p.PostProcessingPrompt
	}
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}

	if err := o.st.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	for _, item := range result.Items {
		unit := &domain.WorkUnit{
			ID:         domain.NewUnitID(),
			JobID:      job.ID,
			UnitType:   p.EnumeratorType,
			Status:     domain.UnitPending,
			Payload:    item,
			CreatedAt:  time.Now().UTC(),
			MaxRetries: maxRetries,
		}
		if err := o.st.CreateWorkUnit(ctx, unit); err != nil {
			return nil, fmt.Errorf("save work unit: %w", err)
		}
	}

	return &CreateJobResult{
		JobID:             job.ID,
		TotalItems:        len(result.Items),
		EnumeratorType:    p.EnumeratorType,
		WorkerPrompt:      workerPrompt,
		HasPostProcessing: job.PostProcessingPrompt != nil,
	}, nil
}

// StartResult is what StartJob/ResumeJob report — it covers both the
// test-phase and the direct-dispatch branches of the original's
// start_job.
type StartResult struct {
	Status               string // "testing" | "started" | "running" | "reset"
	TestPassed            bool
	TestUnitID            *domain.UnitID
	TestOutput            string
	TestError             string
	ExecutorPID           int
	RemainingUnits        int
	AwaitingUserApproval  bool
}

// StartJob mirrors start_job's state-branching: CREATED runs the test
// phase (unless skipped), TESTING dispatches on approve, RUNNING checks
// whether the executor is already alive before relaunching it.
func (o *Orchestrator) StartJob(ctx context.Context, jobID domain.JobID, approve *bool, skipTest bool) (*StartResult, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case domain.JobCreated:
		if skipTest || o.cfg.SkipTest {
			return o.startExecutor(ctx, job)
		}
		return o.runTestPhase(ctx, job)

	case domain.JobTesting:
		if approve == nil {
			return o.testResults(ctx, job)
		}
		if *approve {
			return o.startExecutor(ctx, job)
		}
		if job.TestUnitID != nil {
			testUnit, err := o.st.GetWorkUnit(ctx, *job.TestUnitID)
			if err != nil {
				return nil, err
			}
			if testUnit.Status == domain.UnitCompleted {
				job.CompletedUnits--
			}
			testUnit.Status = domain.UnitPending
			testUnit.Result = nil
			testUnit.Error = nil
			testUnit.SessionID = nil
			testUnit.AssignedAt = nil
			testUnit.StartedAt = nil
			testUnit.CompletedAt = nil
			testUnit.WorkerID = nil
			if _, err := o.st.UpdateWorkUnit(ctx, testUnit); err != nil {
				return nil, err
			}
		}
		job.Status = domain.JobCreated
		job.TestPassed = false
		job.TestUnitID = nil
		if _, err := o.st.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		return &StartResult{Status: "reset"}, nil

	case domain.JobRunning:
		if pid, ok := o.runningExecutorPID(job); ok {
			return &StartResult{Status: "running", ExecutorPID: pid}, nil
		}
		return o.startExecutor(ctx, job)

	default:
		return nil, fmt.Errorf("cannot start job in %s status", job.Status)
	}
}

func (o *Orchestrator) runTestPhase(ctx context.Context, job *domain.Job) (*StartResult, error) {
	units, err := o.st.GetPendingUnits(ctx, job.ID, 1)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no pending units to test")
	}
	testUnit := units[0]

	job.Status = domain.JobTesting
	job.TestUnitID = &testUnit.ID
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	testUnit.Status = domain.UnitAssigned
	testUnit.AssignedAt = &now
	if _, err := o.st.UpdateWorkUnit(ctx, &testUnit); err != nil {
		return nil, err
	}
	testUnit.Status = domain.UnitProcessing
	testUnit.StartedAt = &now
	if _, err := o.st.UpdateWorkUnit(ctx, &testUnit); err != nil {
		return nil, err
	}

	result := o.rnr.Execute(ctx, job.WorkerPromptTemplate, testUnit.Payload, runner.Options{}, runner.Callbacks{
		OnProcessStart: func(pid int) { _ = o.st.SetUnitProcessID(ctx, testUnit.ID, pid) },
		OnStreamEvent: func(eventType string, raw []byte) {
			if eventType == "system" {
				return // session id extraction happens via runner.Result.SessionID instead
			}
			_ = o.st.AppendConversationEvent(ctx, testUnit.ID, domain.ConversationEvent{Type: eventType, Raw: raw, Timestamp: time.Now().UTC()})
		},
	})

	completedAt := time.Now().UTC()
	testUnit.CompletedAt = &completedAt
	if result.SessionID != "" {
		testUnit.SessionID = &result.SessionID
	}
	if result.Success {
		testUnit.Status = domain.UnitCompleted
		out := domain.PayloadFromMap(map[string]any{"output": result.Output})
		testUnit.Result = &out
	} else {
		testUnit.Status = domain.UnitFailed
		testUnit.Error = strPtr(result.Error)
	}
	exec := result.ExecutionTime.Seconds()
	testUnit.ExecutionTimeSeconds = &exec
	if result.TotalCostUSD > 0 {
		cost := result.TotalCostUSD
		testUnit.CostUSD = &cost
	}
	if _, err := o.st.UpdateWorkUnit(ctx, &testUnit); err != nil {
		return nil, err
	}

	job.TestPassed = result.Success
	if result.Success {
		job.CompletedUnits = 1
	}
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return &StartResult{
		Status:               "testing",
		TestPassed:           result.Success,
		TestUnitID:           &testUnit.ID,
		TestOutput:           result.Output,
		TestError:            result.Error,
		RemainingUnits:       job.TotalUnits - 1,
		AwaitingUserApproval: true,
	}, nil
}

func (o *Orchestrator) testResults(ctx context.Context, job *domain.Job) (*StartResult, error) {
	if job.TestUnitID == nil {
		return nil, fmt.Errorf("no test unit found")
	}
	unit, err := o.st.GetWorkUnit(ctx, *job.TestUnitID)
	if err != nil {
		return nil, err
	}
	out := ""
	if unit.Result != nil {
		if v, ok := unit.Result.Get("output"); ok {
			if s, ok := v.(string); ok {
				out = s
			}
		}
	}
	errStr := ""
	if unit.Error != nil {
		errStr = *unit.Error
	}
	return &StartResult{
		Status:               "testing",
		TestPassed:           job.TestPassed,
		TestUnitID:           job.TestUnitID,
		TestOutput:           out,
		TestError:            errStr,
		RemainingUnits:       job.TotalUnits - job.CompletedUnits,
		AwaitingUserApproval: true,
	}, nil
}

// startExecutor marks the job running and spawns a detached Job
// Executor process for it, recording its PID in job metadata the same
// way the original stashes executor_pid/executor_started_at.
func (o *Orchestrator) startExecutor(ctx context.Context, job *domain.Job) (*StartResult, error) {
	job.Status = domain.JobRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	pid, err := supervisor.SpawnDetached(string(job.ID), o.storagePath)
	if err != nil {
		return nil, fmt.Errorf("spawn job executor: %w", err)
	}

	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	job.Metadata[executorPIDKey] = fmt.Sprintf("%d", pid)
	job.Metadata[executorStartedAtKey] = now.Format(time.RFC3339)
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return &StartResult{
		Status:         "started",
		ExecutorPID:    pid,
		RemainingUnits: job.TotalUnits - job.CompletedUnits,
	}, nil
}

// runningExecutorPID reports the job's last-known executor PID, and
// whether that process is still alive.
func (o *Orchestrator) runningExecutorPID(job *domain.Job) (int, bool) {
	raw, ok := job.Metadata[executorPIDKey]
	if !ok {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(raw, "%d", &pid); err != nil {
		return 0, false
	}
	return pid, supervisor.IsAlive(pid)
}

// ResumeJob restarts a paused or failed job: if pending units remain
// and no executor is already alive for it, it spawns a fresh one.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID domain.JobID) (*StartResult, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	pending, err := o.st.GetPendingUnits(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("job %s has no pending units to resume", jobID)
	}

	if pid, alive := o.runningExecutorPID(job); alive {
		return &StartResult{Status: "running", ExecutorPID: pid}, nil
	}

	return o.startExecutor(ctx, job)
}

// KillResult reports the outcome of a KillJob call.
type KillResult struct {
	Message string
}

// KillJob force-terminates a running executor process group, the way
// the original's kill_executor does with os.killpg + SIGKILL fallback.
func (o *Orchestrator) KillJob(ctx context.Context, jobID domain.JobID) (*KillResult, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	pid, _ := o.runningExecutorPID(job)
	if pid == 0 {
		return nil, fmt.Errorf("no executor process found for job %s", jobID)
	}
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}

	now := time.Now().UTC()
	if !supervisor.IsAlive(pid) {
		job.Status = domain.JobFailed
		job.Metadata[killedAtKey] = now.Format(time.RFC3339)
		job.Metadata[killReasonKey] = "user requested kill (process already dead)"
		if _, err := o.st.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		return &KillResult{Message: "process was already dead, job marked as failed"}, nil
	}

	killProcessGroup(pid)

	job.Status = domain.JobFailed
	job.CompletedAt = &now
	job.Metadata[killedAtKey] = now.Format(time.RFC3339)
	job.Metadata[killReasonKey] = "user requested kill"
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return &KillResult{Message: fmt.Sprintf("job %s killed", jobID)}, nil
}

// BypassResult reports the outcome of enabling bypass on a job.
type BypassResult struct {
	FailedUnits    int
	CompletedUnits int
	Message        string
}

// BypassFailures implements the dashboard's /bypass command: it only
// flips the flag, it never touches unit state — re-running the job is
// what actually triggers post-processing under the new flag.
func (o *Orchestrator) BypassFailures(ctx context.Context, jobID domain.JobID) (*BypassResult, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PostProcessingPrompt == nil {
		return nil, fmt.Errorf("job %s has no post-processing step configured", jobID)
	}
	if !job.AllUnitsDone() {
		return nil, fmt.Errorf("cannot bypass until all units have finished processing")
	}
	if job.FailedUnits == 0 {
		return nil, fmt.Errorf("no failures to bypass - all units succeeded")
	}
	if job.BypassFailures {
		return nil, fmt.Errorf("bypass has already been enabled for this job")
	}

	job.BypassFailures = true
	if _, err := o.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return &BypassResult{
		FailedUnits:    job.FailedUnits,
		CompletedUnits: job.CompletedUnits,
		Message:        fmt.Sprintf("bypass enabled; %d failed units will be ignored once the job is restarted", job.FailedUnits),
	}, nil
}

// JobStatusView is the combined job+executor+unit-count snapshot the
// dashboard's status endpoint and CLI both read.
type JobStatusView struct {
	Job            *domain.Job
	ExecutorAlive  bool
	ExecutorPID    int
	UnitStats      map[domain.WorkUnitStatus]int
}

func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID domain.JobID) (*JobStatusView, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := o.st.CountUnitsByStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	pid, alive := o.runningExecutorPID(job)
	return &JobStatusView{Job: job, ExecutorAlive: alive, ExecutorPID: pid, UnitStats: counts}, nil
}

// RestartJob resets any stuck units for a non-running job and spawns a
// fresh executor, grounded on routes.py's restart_job.
func (o *Orchestrator) RestartJob(ctx context.Context, jobID domain.JobID) (*StartResult, error) {
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, alive := o.runningExecutorPID(job); alive {
		return nil, fmt.Errorf("job executor is already running")
	}

	if _, err := o.st.ResetStuckUnits(ctx, jobID); err != nil {
		return nil, fmt.Errorf("reset stuck units: %w", err)
	}

	pending, err := o.st.GetPendingUnits(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	// A job with bypass enabled and no post-processing unit yet is
	// restarted even with nothing pending, so the executor can run its
	// post-processing step.
	if len(pending) == 0 && !(job.BypassFailures && job.PostProcessingUnitID == nil) {
		return nil, fmt.Errorf("no pending units to process; all units are either completed or failed")
	}

	return o.startExecutor(ctx, job)
}

// KillUnit force-terminates a single in-flight work unit's subprocess
// without touching the rest of the job, grounded on job_executor.py's
// kill_work_unit.
func (o *Orchestrator) KillUnit(ctx context.Context, jobID domain.JobID, unitID domain.UnitID) error {
	unit, err := o.st.GetWorkUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.JobID != jobID {
		return fmt.Errorf("work unit %s does not belong to job %s", unitID, jobID)
	}
	if unit.ProcessID == nil {
		return fmt.Errorf("no process found for unit %s (may not be running)", unitID)
	}

	if !supervisor.IsAlive(*unit.ProcessID) {
		unit.Status = domain.UnitFailed
		unit.Error = strPtr("process killed by user (process already dead)")
		unit.ProcessID = nil
		_, err := o.st.UpdateWorkUnit(ctx, unit)
		return err
	}

	killProcessGroup(*unit.ProcessID)
	unit.ProcessID = nil
	_, err = o.st.UpdateWorkUnit(ctx, unit)
	return err
}

// RestartUnit resets a failed unit back to pending so the dispatch loop
// picks it up again, grounded on job_executor.py's restart_work_unit.
// It deliberately does not touch RetryCount, matching the original's
// note that a manual restart should not count against the automatic
// retry budget.
func (o *Orchestrator) RestartUnit(ctx context.Context, jobID domain.JobID, unitID domain.UnitID) error {
	unit, err := o.st.GetWorkUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.JobID != jobID {
		return fmt.Errorf("work unit %s does not belong to job %s", unitID, jobID)
	}
	if unit.Status != domain.UnitFailed {
		return fmt.Errorf("cannot restart unit with status %q; only failed units can be restarted", unit.Status)
	}

	if unit.ProcessID != nil {
		killProcessGroup(*unit.ProcessID)
	}

	job, err := o.st.GetJob(ctx, jobID)
	if err == nil && job.FailedUnits > 0 {
		job.FailedUnits--
		_, _ = o.st.UpdateJob(ctx, job)
	}

	unit.Status = domain.UnitPending
	unit.Error = nil
	unit.Result = nil
	unit.WorkerID = nil
	unit.AssignedAt = nil
	unit.StartedAt = nil
	unit.CompletedAt = nil
	unit.ExecutionTimeSeconds = nil
	unit.ProcessID = nil
	unit.Conversation = nil
	unit.RenderedPrompt = nil
	unit.SessionID = nil
	unit.CostUSD = nil

	_, err = o.st.UpdateWorkUnit(ctx, unit)
	return err
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
