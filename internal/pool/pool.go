// Package pool is the Worker Pool: bounded-concurrency dispatch of work
// units onto the Agent Runner, grounded on the teacher's
// semaphore-bounded JobScheduler and the Python original's
// ThreadPoolExecutor-based worker_pool.py.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
)

// Hooks let the Supervisor react to a unit's outcome without the pool
// needing to know anything about job-level counters or post-processing.
type Hooks struct {
	OnComplete func(domain.WorkUnit)
	OnFailed   func(domain.WorkUnit)
}

type Pool struct {
	st     store.Store
	rnr    *runner.Runner
	logger *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	active  map[domain.UnitID]domain.WorkerID
	workers map[domain.WorkerID]struct{}

	stopping bool
}

func New(maxWorkers int, st store.Store, rnr *runner.Runner, logger *slog.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Pool{
		st:     st,
		rnr:    rnr,
		logger: logger,
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
		active:  make(map[domain.UnitID]domain.WorkerID),
		workers: make(map[domain.WorkerID]struct{}),
	}
}

// WaitForAvailableSlot blocks up to timeout for a free worker slot,
// returning false if none frees up in time or ctx is cancelled. It does
// not reserve the slot — Submit acquires its own — so the dispatch loop
// can cancel its wait without starving a unit that was about to run.
// This mirrors the Python original's wait_for_available_slot/submit
// split, including its accepted race: a slot seen free here can be
// taken by the time Submit runs, in which case Submit just blocks a
// little longer.
func (p *Pool) WaitForAvailableSlot(ctx context.Context, timeout time.Duration) bool {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		return false
	}
	p.sem.Release(1)
	return true
}

// ActiveCount reports how many units are currently being processed.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Submit acquires a slot (blocking if the pool is at capacity) and runs
// unit in its own goroutine. It returns once the unit has been accepted
// for execution, not once execution finishes.
func (p *Pool) Submit(ctx context.Context, unit domain.WorkUnit, template string, opts runner.Options, hooks Hooks) error {
	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		return fmt.Errorf("pool is stopping, rejecting unit %s", unit.ID)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot: %w", err)
	}

	p.wg.Add(1)
	go p.runUnit(ctx, unit, template, opts, hooks)
	return nil
}

func (p *Pool) runUnit(ctx context.Context, unit domain.WorkUnit, template string, opts runner.Options, hooks Hooks) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	worker := &domain.Worker{
		ID:            domain.NewWorkerID(),
		Status:        domain.WorkerBusy,
		JobID:         &unit.JobID,
		CurrentUnitID: &unit.ID,
		StartedAt:     time.Now().UTC(),
	}
	if err := p.st.CreateWorker(ctx, worker); err != nil {
		p.logger.Error("create worker record failed", "error", err, "unit_id", unit.ID)
	}

	p.mu.Lock()
	p.active[unit.ID] = worker.ID
	p.workers[worker.ID] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, unit.ID)
		p.mu.Unlock()
	}()

	now := time.Now().UTC()
	unit.Status = domain.UnitAssigned
	unit.AssignedAt = &now
	unit.WorkerID = &worker.ID
	if ok, err := p.st.UpdateWorkUnit(ctx, &unit); err != nil || !ok {
		p.logger.Error("mark unit assigned failed", "error", err, "unit_id", unit.ID, "applied", ok)
	}

	startedAt := time.Now().UTC()
	unit.Status = domain.UnitProcessing
	unit.StartedAt = &startedAt
	if ok, err := p.st.UpdateWorkUnit(ctx, &unit); err != nil || !ok {
		p.logger.Error("mark unit processing failed", "error", err, "unit_id", unit.ID, "applied", ok)
	}

	result := p.rnr.Execute(ctx, template, unit.Payload, opts, runner.Callbacks{
		OnProcessStart: func(pid int) {
			if err := p.st.SetUnitProcessID(ctx, unit.ID, pid); err != nil {
				p.logger.Warn("persist unit pid failed", "error", err)
			}
			worker.ProcessID = &pid
			if _, err := p.st.UpdateWorker(ctx, worker); err != nil {
				p.logger.Warn("persist worker pid failed", "error", err)
			}
		},
		OnStreamEvent: func(eventType string, raw []byte) {
			if err := p.st.AppendConversationEvent(ctx, unit.ID, domain.ConversationEvent{
				Type: eventType, Raw: raw, Timestamp: time.Now().UTC(),
			}); err != nil {
				p.logger.Warn("persist conversation event failed", "error", err)
			}
		},
	})

	completedAt := time.Now().UTC()
	unit.CompletedAt = &completedAt
	unit.RenderedPrompt = &result.RenderedPrompt
	unit.SessionID = strPtrOrNil(result.SessionID)
	exec := result.ExecutionTime.Seconds()
	unit.ExecutionTimeSeconds = &exec
	if result.TotalCostUSD > 0 {
		cost := result.TotalCostUSD
		unit.CostUSD = &cost
	}

	worker.UnitsCompleted += boolToInt(result.Success)
	worker.UnitsFailed += boolToInt(!result.Success)
	worker.TotalExecutionTimeMS += result.ExecutionTime.Milliseconds()
	worker.Status = domain.WorkerIdle
	worker.CurrentUnitID = nil

	if result.Success {
		unit.Status = domain.UnitCompleted
		out := domain.PayloadFromMap(map[string]any{"output": result.Output})
		unit.Result = &out
	} else {
		unit.Status = domain.UnitFailed
		unit.Error = strPtrOrNil(result.Error)
		if result.Reason == runner.ReasonTimeout || result.Reason == runner.ReasonNoResult {
			worker.Status = domain.WorkerFailed
		}
	}

	if ok, err := p.st.UpdateWorkUnit(ctx, &unit); err != nil || !ok {
		p.logger.Error("persist unit outcome failed", "error", err, "unit_id", unit.ID, "applied", ok)
	}
	if _, err := p.st.UpdateWorker(ctx, worker); err != nil {
		p.logger.Warn("persist worker outcome failed", "error", err)
	}

	if result.Success {
		if hooks.OnComplete != nil {
			hooks.OnComplete(unit)
		}
	} else if hooks.OnFailed != nil {
		hooks.OnFailed(unit)
	}
}

// WaitForCompletion blocks until every submitted unit has finished.
func (p *Pool) WaitForCompletion() {
	p.wg.Wait()
}

// Stop closes the pool to new submissions, drains in-flight units, then
// marks every worker this pool ever created terminated — the Python
// original's worker_pool.py does the same at shutdown, since a worker
// row that finished idle or failed is still done for good once the pool
// itself is going away; idle/failed only distinguish how its last unit
// went, not whether the worker is still available for another one.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	ids := make([]domain.WorkerID, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		w, err := p.st.GetWorker(ctx, id)
		if err != nil {
			p.logger.Warn("load worker for termination failed", "error", err, "worker_id", id)
			continue
		}
		if w.Status == domain.WorkerTerminated {
			continue
		}
		w.Status = domain.WorkerTerminated
		if _, err := p.st.UpdateWorker(ctx, w); err != nil {
			p.logger.Warn("terminate worker failed", "error", err, "worker_id", id)
		}
	}
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
