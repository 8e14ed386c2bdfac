package domain

import "time"

// WorkUnitStatus is one of the five states a WorkUnit moves through.
type WorkUnitStatus string

const (
	UnitPending    WorkUnitStatus = "pending"
	UnitAssigned   WorkUnitStatus = "assigned"
	UnitProcessing WorkUnitStatus = "processing"
	UnitCompleted  WorkUnitStatus = "completed"
	UnitFailed     WorkUnitStatus = "failed"
)

// WorkUnit is a generic piece of work: a file, a row, a URL, a post
// processing synthesis step. The enumerator that produced it decides
// what UnitType and Payload mean; everything downstream treats the
// payload opaquely.
type WorkUnit struct {
	ID       UnitID
	JobID    JobID
	UnitType string
	Status   WorkUnitStatus
	Payload  Payload

	CreatedAt   time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	WorkerID *WorkerID

	Result     *Payload
	Error      *string
	RetryCount int
	MaxRetries int

	ExecutionTimeSeconds *float64
	OutputFiles          []string

	RenderedPrompt *string
	Conversation   []ConversationEvent
	SessionID      *string
	CostUSD        *float64
	ProcessID      *int
}

// CanRetry mirrors the original's can_retry(): a unit may be resubmitted
// as long as it hasn't exhausted its retry budget yet.
func (u WorkUnit) CanRetry() bool {
	return u.RetryCount < u.MaxRetries
}

// ConversationEvent wraps one raw JSON line emitted by the agent
// subprocess together with a monotonic sequence number, so storage
// never has to infer emission order from anything but insertion order.
type ConversationEvent struct {
	Seq       int
	Type      string
	Raw       []byte
	Timestamp time.Time
}
