package domain

import "testing"

import "github.com/stretchr/testify/assert"

func TestJobTransitions(t *testing.T) {
	assert.True(t, IsValidJobTransition(JobCreated, JobTesting))
	assert.True(t, IsValidJobTransition(JobCreated, JobReady))
	assert.True(t, IsValidJobTransition(JobRunning, JobPostProcessing))
	assert.True(t, IsValidJobTransition(JobRunning, JobPaused))
	assert.True(t, IsValidJobTransition(JobCompleted, JobCompleted))
	assert.False(t, IsValidJobTransition(JobCompleted, JobRunning))
	assert.False(t, IsValidJobTransition(JobCreated, JobCompleted))
}

func TestUnitTransitions(t *testing.T) {
	assert.True(t, IsValidUnitTransition(UnitPending, UnitAssigned))
	assert.True(t, IsValidUnitTransition(UnitProcessing, UnitFailed))
	assert.True(t, IsValidUnitTransition(UnitFailed, UnitPending))
	assert.False(t, IsValidUnitTransition(UnitCompleted, UnitProcessing))
	assert.False(t, IsValidUnitTransition(UnitPending, UnitCompleted))
}

func TestWorkUnitCanRetry(t *testing.T) {
	u := WorkUnit{RetryCount: 2, MaxRetries: 3}
	assert.True(t, u.CanRetry())
	u.RetryCount = 3
	assert.False(t, u.CanRetry())
}

func TestJobProgressPercentage(t *testing.T) {
	j := Job{TotalUnits: 0}
	assert.Equal(t, 0.0, j.ProgressPercentage())

	j = Job{TotalUnits: 4, CompletedUnits: 1}
	assert.Equal(t, 25.0, j.ProgressPercentage())
}
