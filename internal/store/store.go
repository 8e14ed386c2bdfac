// Package store is the durable Store: the single shared resource
// between the Supervisor's dispatch loop, the Worker Pool, and the
// Orchestrator's read path.
package store

import (
	"context"

	"github.com/aulebatch/kernel/internal/domain"
)

// Store is the full set of operations the rest of the system needs
// against job/work-unit/worker/log state. The Update* methods return
// (false, nil) when the mutation would violate an invariant (job not
// found, illegal state transition, unit already terminal) rather than
// an error — callers branch on the bool, reserving the error return for
// genuinely unexpected failures (a broken connection, a corrupt row).
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) (bool, error)
	GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)

	CreateWorkUnit(ctx context.Context, unit *domain.WorkUnit) error
	UpdateWorkUnit(ctx context.Context, unit *domain.WorkUnit) (bool, error)
	GetWorkUnit(ctx context.Context, id domain.UnitID) (*domain.WorkUnit, error)
	GetPendingUnits(ctx context.Context, jobID domain.JobID, limit int) ([]domain.WorkUnit, error)
	CountUnitsByStatus(ctx context.Context, jobID domain.JobID) (map[domain.WorkUnitStatus]int, error)
	ListUnitsForJob(ctx context.Context, jobID domain.JobID) ([]domain.WorkUnit, error)

	SetUnitSessionID(ctx context.Context, id domain.UnitID, sessionID string) error
	SetUnitProcessID(ctx context.Context, id domain.UnitID, pid int) error
	AppendConversationEvent(ctx context.Context, id domain.UnitID, ev domain.ConversationEvent) error

	CreateWorker(ctx context.Context, w *domain.Worker) error
	UpdateWorker(ctx context.Context, w *domain.Worker) (bool, error)
	GetWorker(ctx context.Context, id domain.WorkerID) (*domain.Worker, error)
	ListWorkers(ctx context.Context, jobID domain.JobID) ([]domain.Worker, error)

	// CleanupStaleWorkers marks terminated every busy/idle worker of
	// jobID whose OS process is no longer alive. isAlive is injected so
	// the Store itself never probes /proc directly — that's an
	// OS-process concern, owned by the Supervisor.
	CleanupStaleWorkers(ctx context.Context, jobID domain.JobID, isAlive func(pid int) bool) (int, error)

	// ResetStuckUnits moves every unit still "assigned" or "processing"
	// for jobID back to pending, for a job whose supervisor died
	// mid-flight.
	ResetStuckUnits(ctx context.Context, jobID domain.JobID) (int, error)

	AppendLog(ctx context.Context, entry *domain.LogEntry) error
	QueryLogs(ctx context.Context, jobID domain.JobID, filter domain.LogFilter) ([]domain.LogEntry, error)

	JobTotalCost(ctx context.Context, jobID domain.JobID) (float64, error)

	// ActiveUnitsWithLatestEvent backs the dashboard's job-live-activity
	// view: every unit currently assigned/processing, each paired with
	// the last conversation event recorded for it.
	ActiveUnitsWithLatestEvent(ctx context.Context, jobID domain.JobID) ([]ActiveUnit, error)

	Close() error
}

// ActiveUnit is a work unit plus the most recent conversation event
// recorded for it, for live dashboards.
type ActiveUnit struct {
	Unit       domain.WorkUnit
	LatestType string
	LatestRaw  []byte
}
