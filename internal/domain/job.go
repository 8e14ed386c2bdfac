package domain

import "time"

// JobStatus is one of the eight states a Job moves through. See
// statemachine.go for the legal transition table.
type JobStatus string

const (
	JobCreated        JobStatus = "created"
	JobTesting        JobStatus = "testing"
	JobReady          JobStatus = "ready"
	JobRunning        JobStatus = "running"
	JobPaused         JobStatus = "paused"
	JobPostProcessing JobStatus = "post_processing"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
)

// Job is a collection of work units sharing one prompt template and one
// concurrency budget.
type Job struct {
	ID                   JobID
	Name                 string
	Description          string
	Status               JobStatus
	WorkerPromptTemplate string
	UnitType             string
	TotalUnits           int
	CompletedUnits       int
	FailedUnits          int
	MaxWorkers           int
	MaxRetries           int
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	TestUnitID           *UnitID
	TestPassed           bool
	OutputStrategy       string
	Metadata             map[string]string

	PostProcessingPrompt *string
	PostProcessingUnitID *UnitID

	BypassFailures bool
}

// ProgressPercentage mirrors the original's progress_percentage(): the
// share of total units that have reached a terminal success state.
func (j Job) ProgressPercentage() float64 {
	if j.TotalUnits == 0 {
		return 0
	}
	return float64(j.CompletedUnits) / float64(j.TotalUnits) * 100
}

// AllUnitsDone reports whether completed+failed has reached total,
// ignoring the synthetic post-processing unit which is never counted in
// TotalUnits.
func (j Job) AllUnitsDone() bool {
	return j.CompletedUnits+j.FailedUnits >= j.TotalUnits
}

func (j Job) AllSucceeded() bool {
	return j.FailedUnits == 0 && j.CompletedUnits >= j.TotalUnits
}
