package domain

import "github.com/google/uuid"

// JobID, UnitID and WorkerID are newtypes over uuid strings so callers
// can't accidentally pass a unit ID where a job ID is expected.
type JobID string

type UnitID string

type WorkerID string

func NewJobID() JobID { return JobID(uuid.New().String()) }

func NewUnitID() UnitID { return UnitID(uuid.New().String()) }

func NewWorkerID() WorkerID { return WorkerID(uuid.New().String()) }
