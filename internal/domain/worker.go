package domain

import "time"

// WorkerStatus is one of the four states a Worker record moves through.
// A Worker row tracks one concurrent slot in the pool, not the OS
// process's exit status directly — UpdateWorker's caller is responsible
// for reconciling the two (see store.CleanupStaleWorkers).
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerBusy       WorkerStatus = "busy"
	WorkerFailed     WorkerStatus = "failed"
	WorkerTerminated WorkerStatus = "terminated"
)

type Worker struct {
	ID            WorkerID
	Status        WorkerStatus
	JobID         *JobID
	CurrentUnitID *UnitID
	ProcessID     *int

	StartedAt     time.Time
	LastHeartbeat *time.Time

	UnitsCompleted       int
	UnitsFailed          int
	TotalExecutionTimeMS int64
}
