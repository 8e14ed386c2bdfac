package domain

// jobTransitions is the adjacency list of legal Job status moves.
// created is the state CreateJob leaves a job in; testing and running
// come from the Orchestrator's StartJob branches (running directly from
// created when the test phase is skipped, or from testing on approval);
// ready is a legal table state that no code path currently sets; paused
// is what a Supervisor leaves behind after a graceful stop on a signal
// (a crashed Supervisor marks the job failed instead); post_processing
// is only entered from running once every ordinary unit is done;
// completed is terminal, and failed only leads back to running.
var jobTransitions = map[JobStatus][]JobStatus{
	JobCreated:        {JobTesting, JobReady, JobRunning, JobFailed},
	JobTesting:        {JobReady, JobRunning, JobFailed, JobCreated},
	JobReady:          {JobRunning, JobFailed},
	JobRunning:        {JobPaused, JobPostProcessing, JobCompleted, JobFailed},
	JobPaused:         {JobRunning, JobFailed},
	JobPostProcessing: {JobCompleted, JobFailed},
	JobCompleted:      {},
	JobFailed:         {JobRunning}, // resume_job may retry a failed job
}

// IsValidJobTransition reports whether moving a Job from `from` to `to`
// is legal. Setting a job to its current status is always allowed (it's
// a no-op update, not a transition).
func IsValidJobTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var unitTransitions = map[WorkUnitStatus][]WorkUnitStatus{
	UnitPending:    {UnitAssigned, UnitFailed},
	UnitAssigned:   {UnitProcessing, UnitFailed},
	UnitProcessing: {UnitCompleted, UnitFailed},
	// completed is terminal for an ordinary unit, except the one unit
	// that ran as a job's test phase: rejecting a test (StartJob's
	// approve=false branch) puts it back to pending so the same item
	// runs again under a revised prompt instead of being skipped.
	UnitCompleted: {UnitPending},
	// a failed unit that still has retry budget goes back to pending
	// under a fresh attempt; retry_count already incremented by the
	// caller before this transition happens.
	UnitFailed: {UnitPending},
}

func IsValidUnitTransition(from, to WorkUnitStatus) bool {
	if from == to {
		return true
	}
	for _, s := range unitTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var workerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerIdle:       {WorkerBusy, WorkerTerminated},
	WorkerBusy:       {WorkerIdle, WorkerFailed, WorkerTerminated},
	WorkerFailed:     {WorkerTerminated, WorkerIdle},
	WorkerTerminated: {},
}

func IsValidWorkerTransition(from, to WorkerStatus) bool {
	if from == to {
		return true
	}
	for _, s := range workerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
