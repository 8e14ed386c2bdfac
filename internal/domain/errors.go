package domain

import "errors"

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrUnitNotFound       = errors.New("work unit not found")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrEnumerationFailed  = errors.New("enumeration failed")
	ErrPendingApproval    = errors.New("enumerator config requires approval")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrExecutorRunning    = errors.New("job executor already running")
	ErrTestNotYetRun      = errors.New("job has not completed its test phase")
	ErrUnknownEnumerator  = errors.New("unknown enumerator type")
)
