package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/aulebatch/kernel/internal/domain"
)

// DuckDBStore is the Store backed by an embedded DuckDB file. DuckDB's
// own single-writer/concurrent-reader model already gives the
// serialization spec.md asks for; writeMu documents and enforces that
// contract defensively at the Go layer and lets the store retry once on
// the specific "write-write conflict" error DuckDB raises under writer
// contention, instead of surfacing transient conflicts to callers who
// have no way to retry mid-transaction themselves.
type DuckDBStore struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex
}

var _ Store = (*DuckDBStore)(nil)

func Open(ctx context.Context, path string, logger *slog.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &DuckDBStore{db: db, logger: logger}, nil
}

func (s *DuckDBStore) Close() error { return s.db.Close() }

// withWrite serializes mutating statements and retries once on a writer
// conflict, matching spec.md §4.1's "concurrent mutating calls must
// serialize deterministically".
func (s *DuckDBStore) withWrite(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isWriteConflict(err) && attempt == 0 {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isWriteConflict(err) && attempt == 0 {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}
	return fmt.Errorf("write conflict after retry: %w", lastErr)
}

func isWriteConflict(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "conflict")
}

// --- jobs ---------------------------------------------------------------

func (s *DuckDBStore) CreateJob(ctx context.Context, job *domain.Job) error {
	metaJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				id, name, description, status, worker_prompt_template, unit_type,
				total_units, completed_units, failed_units, max_workers, max_retries,
				created_at, started_at, completed_at, test_unit_id, test_passed,
				output_strategy, metadata, post_processing_prompt, post_processing_unit_id,
				bypass_failures
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(job.ID), job.Name, job.Description, string(job.Status), job.WorkerPromptTemplate,
			job.UnitType, job.TotalUnits, job.CompletedUnits, job.FailedUnits, job.MaxWorkers,
			job.MaxRetries, job.CreatedAt, job.StartedAt, job.CompletedAt, unitIDPtrStr(job.TestUnitID),
			job.TestPassed, job.OutputStrategy, string(metaJSON), job.PostProcessingPrompt,
			unitIDPtrStr(job.PostProcessingUnitID), job.BypassFailures,
		)
		return err
	})
}

// UpdateJob writes job back, enforcing that the transition from the
// currently-stored status to job.Status is legal. A false return (no
// error) means the row either doesn't exist or the transition was
// illegal — the caller's intended mutation was rejected, not silently
// partially applied.
func (s *DuckDBStore) UpdateJob(ctx context.Context, job *domain.Job) (bool, error) {
	existing, err := s.GetJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	if !domain.IsValidJobTransition(existing.Status, job.Status) {
		return false, nil
	}

	metaJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	var applied bool
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET
				name = ?, description = ?, status = ?, worker_prompt_template = ?,
				unit_type = ?, total_units = ?, completed_units = ?, failed_units = ?,
				max_workers = ?, max_retries = ?, started_at = ?, completed_at = ?,
				test_unit_id = ?, test_passed = ?, output_strategy = ?, metadata = ?,
				post_processing_prompt = ?, post_processing_unit_id = ?, bypass_failures = ?
			WHERE id = ?
		`,
			job.Name, job.Description, string(job.Status), job.WorkerPromptTemplate,
			job.UnitType, job.TotalUnits, job.CompletedUnits, job.FailedUnits, job.MaxWorkers,
			job.MaxRetries, job.StartedAt, job.CompletedAt, unitIDPtrStr(job.TestUnitID),
			job.TestPassed, job.OutputStrategy, string(metaJSON), job.PostProcessingPrompt,
			unitIDPtrStr(job.PostProcessingUnitID), job.BypassFailures, string(job.ID),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *DuckDBStore) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, worker_prompt_template, unit_type,
			total_units, completed_units, failed_units, max_workers, max_retries,
			created_at, started_at, completed_at, test_unit_id, test_passed,
			output_strategy, CAST(metadata AS TEXT), post_processing_prompt,
			post_processing_unit_id, bypass_failures
		FROM jobs WHERE id = ?`, string(id))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return job, err
}

func (s *DuckDBStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, worker_prompt_template, unit_type,
			total_units, completed_units, failed_units, max_workers, max_retries,
			created_at, started_at, completed_at, test_unit_id, test_passed,
			output_strategy, CAST(metadata AS TEXT), post_processing_prompt,
			post_processing_unit_id, bypass_failures
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var idStr string
	var testUnitID, ppUnitID *string
	var statusStr, metaJSON string

	if err := row.Scan(
		&idStr, &j.Name, &j.Description, &statusStr, &j.WorkerPromptTemplate, &j.UnitType,
		&j.TotalUnits, &j.CompletedUnits, &j.FailedUnits, &j.MaxWorkers, &j.MaxRetries,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &testUnitID, &j.TestPassed,
		&j.OutputStrategy, &metaJSON, &j.PostProcessingPrompt, &ppUnitID, &j.BypassFailures,
	); err != nil {
		return nil, err
	}

	j.ID = domain.JobID(idStr)
	j.Status = domain.JobStatus(statusStr)
	if testUnitID != nil {
		u := domain.UnitID(*testUnitID)
		j.TestUnitID = &u
	}
	if ppUnitID != nil {
		u := domain.UnitID(*ppUnitID)
		j.PostProcessingUnitID = &u
	}
	if err := json.Unmarshal([]byte(metaJSON), &j.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal job metadata: %w", err)
	}
	return &j, nil
}

func unitIDPtrStr(id *domain.UnitID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

// --- work units -----------------------------------------------------------

func (s *DuckDBStore) CreateWorkUnit(ctx context.Context, unit *domain.WorkUnit) error {
	payloadJSON, err := json.Marshal(unit.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	outputFilesJSON, _ := json.Marshal(unit.OutputFiles)
	convJSON, _ := json.Marshal(unit.Conversation)

	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO work_units (
				id, job_id, unit_type, status, payload, created_at, assigned_at,
				started_at, completed_at, worker_id, result, error, retry_count,
				max_retries, execution_time_seconds, output_files, rendered_prompt,
				conversation, session_id, cost_usd, process_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(unit.ID), string(unit.JobID), unit.UnitType, string(unit.Status),
			string(payloadJSON), unit.CreatedAt, unit.AssignedAt, unit.StartedAt,
			unit.CompletedAt, workerIDPtrStr(unit.WorkerID), marshalResult(unit.Result),
			unit.Error, unit.RetryCount, unit.MaxRetries, unit.ExecutionTimeSeconds,
			string(outputFilesJSON), unit.RenderedPrompt, string(convJSON), unit.SessionID,
			unit.CostUSD, unit.ProcessID,
		)
		return err
	})
}

func (s *DuckDBStore) UpdateWorkUnit(ctx context.Context, unit *domain.WorkUnit) (bool, error) {
	existing, err := s.GetWorkUnit(ctx, unit.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUnitNotFound) {
			return false, nil
		}
		return false, err
	}
	if !domain.IsValidUnitTransition(existing.Status, unit.Status) {
		return false, nil
	}

	payloadJSON, err := json.Marshal(unit.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	outputFilesJSON, _ := json.Marshal(unit.OutputFiles)
	convJSON, _ := json.Marshal(unit.Conversation)

	var applied bool
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE work_units SET
				status = ?, payload = ?, assigned_at = ?, started_at = ?, completed_at = ?,
				worker_id = ?, result = ?, error = ?, retry_count = ?, max_retries = ?,
				execution_time_seconds = ?, output_files = ?, rendered_prompt = ?,
				conversation = ?, session_id = ?, cost_usd = ?, process_id = ?
			WHERE id = ?
		`,
			string(unit.Status), string(payloadJSON), unit.AssignedAt, unit.StartedAt,
			unit.CompletedAt, workerIDPtrStr(unit.WorkerID), marshalResult(unit.Result),
			unit.Error, unit.RetryCount, unit.MaxRetries, unit.ExecutionTimeSeconds,
			string(outputFilesJSON), unit.RenderedPrompt, string(convJSON), unit.SessionID,
			unit.CostUSD, unit.ProcessID, string(unit.ID),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *DuckDBStore) GetWorkUnit(ctx context.Context, id domain.UnitID) (*domain.WorkUnit, error) {
	row := s.db.QueryRowContext(ctx, unitSelectQuery+" WHERE id = ?", string(id))
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnitNotFound
	}
	return unit, err
}

func (s *DuckDBStore) GetPendingUnits(ctx context.Context, jobID domain.JobID, limit int) ([]domain.WorkUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		unitSelectQuery+" WHERE job_id = ? AND status = ? ORDER BY created_at ASC LIMIT ?",
		string(jobID), string(domain.UnitPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *DuckDBStore) ListUnitsForJob(ctx context.Context, jobID domain.JobID) ([]domain.WorkUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		unitSelectQuery+" WHERE job_id = ? ORDER BY created_at ASC", string(jobID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *DuckDBStore) CountUnitsByStatus(ctx context.Context, jobID domain.JobID) (map[domain.WorkUnitStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM work_units WHERE job_id = ? GROUP BY status`, string(jobID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.WorkUnitStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.WorkUnitStatus(status)] = n
	}
	return counts, rows.Err()
}

const unitSelectQuery = `
	SELECT id, job_id, unit_type, status, CAST(payload AS TEXT), created_at, assigned_at,
		started_at, completed_at, worker_id, result, error, retry_count, max_retries,
		execution_time_seconds, CAST(output_files AS TEXT), rendered_prompt,
		CAST(conversation AS TEXT), session_id, cost_usd, process_id
	FROM work_units`

func scanUnit(row rowScanner) (*domain.WorkUnit, error) {
	var u domain.WorkUnit
	var idStr, jobIDStr, statusStr, payloadJSON, outputFilesJSON, convJSON string
	var workerIDStr *string
	var result *string

	if err := row.Scan(
		&idStr, &jobIDStr, &u.UnitType, &statusStr, &payloadJSON, &u.CreatedAt,
		&u.AssignedAt, &u.StartedAt, &u.CompletedAt, &workerIDStr, &result, &u.Error,
		&u.RetryCount, &u.MaxRetries, &u.ExecutionTimeSeconds, &outputFilesJSON,
		&u.RenderedPrompt, &convJSON, &u.SessionID, &u.CostUSD, &u.ProcessID,
	); err != nil {
		return nil, err
	}

	u.ID = domain.UnitID(idStr)
	u.JobID = domain.JobID(jobIDStr)
	u.Status = domain.WorkUnitStatus(statusStr)
	if workerIDStr != nil {
		w := domain.WorkerID(*workerIDStr)
		u.WorkerID = &w
	}
	if err := json.Unmarshal([]byte(payloadJSON), &u.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal([]byte(outputFilesJSON), &u.OutputFiles); err != nil {
		return nil, fmt.Errorf("unmarshal output_files: %w", err)
	}
	if err := json.Unmarshal([]byte(convJSON), &u.Conversation); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	if result != nil {
		var p domain.Payload
		if err := json.Unmarshal([]byte(*result), &p); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		u.Result = &p
	}
	return &u, nil
}

func scanUnits(rows *sql.Rows) ([]domain.WorkUnit, error) {
	units := []domain.WorkUnit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func marshalResult(p *domain.Payload) *string {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(*p)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func workerIDPtrStr(id *domain.WorkerID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func (s *DuckDBStore) SetUnitSessionID(ctx context.Context, id domain.UnitID, sessionID string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE work_units SET session_id = ? WHERE id = ?`, sessionID, string(id))
		return err
	})
}

func (s *DuckDBStore) SetUnitProcessID(ctx context.Context, id domain.UnitID, pid int) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE work_units SET process_id = ? WHERE id = ?`, pid, string(id))
		return err
	})
}

func (s *DuckDBStore) AppendConversationEvent(ctx context.Context, id domain.UnitID, ev domain.ConversationEvent) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT CAST(conversation AS TEXT) FROM work_units WHERE id = ?`, string(id))
		var convJSON string
		if err := row.Scan(&convJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrUnitNotFound
			}
			return err
		}
		var conv []domain.ConversationEvent
		if err := json.Unmarshal([]byte(convJSON), &conv); err != nil {
			return fmt.Errorf("unmarshal conversation: %w", err)
		}
		ev.Seq = len(conv)
		conv = append(conv, ev)
		newJSON, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE work_units SET conversation = ? WHERE id = ?`, string(newJSON), string(id))
		return err
	})
}

// --- workers ----------------------------------------------------------

func (s *DuckDBStore) CreateWorker(ctx context.Context, w *domain.Worker) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workers (id, status, job_id, current_unit_id, process_id,
				started_at, last_heartbeat, units_completed, units_failed, total_execution_time_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(w.ID), string(w.Status), jobIDPtrStr(w.JobID), unitIDPtrStr(w.CurrentUnitID),
			w.ProcessID, w.StartedAt, w.LastHeartbeat, w.UnitsCompleted, w.UnitsFailed,
			w.TotalExecutionTimeMS,
		)
		return err
	})
}

func (s *DuckDBStore) UpdateWorker(ctx context.Context, w *domain.Worker) (bool, error) {
	existing, err := s.GetWorker(ctx, w.ID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			return false, nil
		}
		return false, err
	}
	if !domain.IsValidWorkerTransition(existing.Status, w.Status) {
		return false, nil
	}

	var applied bool
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE workers SET status = ?, job_id = ?, current_unit_id = ?, process_id = ?,
				last_heartbeat = ?, units_completed = ?, units_failed = ?, total_execution_time_ms = ?
			WHERE id = ?`,
			string(w.Status), jobIDPtrStr(w.JobID), unitIDPtrStr(w.CurrentUnitID), w.ProcessID,
			w.LastHeartbeat, w.UnitsCompleted, w.UnitsFailed, w.TotalExecutionTimeMS, string(w.ID),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *DuckDBStore) GetWorker(ctx context.Context, id domain.WorkerID) (*domain.Worker, error) {
	row := s.db.QueryRowContext(ctx, workerSelectQuery+" WHERE id = ?", string(id))
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	return w, err
}

func (s *DuckDBStore) ListWorkers(ctx context.Context, jobID domain.JobID) ([]domain.Worker, error) {
	rows, err := s.db.QueryContext(ctx, workerSelectQuery+" WHERE job_id = ? ORDER BY started_at ASC", string(jobID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workers := []domain.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

const workerSelectQuery = `
	SELECT id, status, job_id, current_unit_id, process_id, started_at, last_heartbeat,
		units_completed, units_failed, total_execution_time_ms
	FROM workers`

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var w domain.Worker
	var idStr, statusStr string
	var jobIDStr, unitIDStr *string

	if err := row.Scan(
		&idStr, &statusStr, &jobIDStr, &unitIDStr, &w.ProcessID, &w.StartedAt,
		&w.LastHeartbeat, &w.UnitsCompleted, &w.UnitsFailed, &w.TotalExecutionTimeMS,
	); err != nil {
		return nil, err
	}
	w.ID = domain.WorkerID(idStr)
	w.Status = domain.WorkerStatus(statusStr)
	if jobIDStr != nil {
		j := domain.JobID(*jobIDStr)
		w.JobID = &j
	}
	if unitIDStr != nil {
		u := domain.UnitID(*unitIDStr)
		w.CurrentUnitID = &u
	}
	return &w, nil
}

func jobIDPtrStr(id *domain.JobID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func (s *DuckDBStore) CleanupStaleWorkers(ctx context.Context, jobID domain.JobID, isAlive func(pid int) bool) (int, error) {
	workers, err := s.ListWorkers(ctx, jobID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, w := range workers {
		if w.Status != domain.WorkerBusy && w.Status != domain.WorkerIdle {
			continue
		}
		if w.ProcessID != nil && isAlive(*w.ProcessID) {
			continue
		}
		w.Status = domain.WorkerTerminated
		ok, err := s.UpdateWorker(ctx, &w)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *DuckDBStore) ResetStuckUnits(ctx context.Context, jobID domain.JobID) (int, error) {
	var n int
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE work_units SET status = ?, worker_id = NULL, assigned_at = NULL, started_at = NULL
			WHERE job_id = ? AND status IN (?, ?)`,
			string(domain.UnitPending), string(jobID), string(domain.UnitAssigned), string(domain.UnitProcessing),
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		n = int(affected)
		return err
	})
	return n, err
}

// --- logs --------------------------------------------------------------

func (s *DuckDBStore) AppendLog(ctx context.Context, entry *domain.LogEntry) error {
	extraJSON, err := json.Marshal(entry.Extra)
	if err != nil {
		return fmt.Errorf("marshal log extra: %w", err)
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO logs (job_id, unit_id, worker_id, source, level, message, extra, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(entry.JobID), unitIDPtrStr(entry.UnitID), workerIDPtrStr(entry.WorkerID),
			entry.Source, entry.Level, entry.Message, string(extraJSON), entry.Timestamp,
		)
		return err
	})
}

func (s *DuckDBStore) QueryLogs(ctx context.Context, jobID domain.JobID, filter domain.LogFilter) ([]domain.LogEntry, error) {
	query := `SELECT id, job_id, unit_id, worker_id, source, level, message, CAST(extra AS TEXT), timestamp
		FROM logs WHERE job_id = ?`
	args := []any{string(jobID)}

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.UnitID != nil {
		query += " AND unit_id = ?"
		args = append(args, string(*filter.UnitID))
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		var jobIDStr, extraJSON string
		var unitIDStr, workerIDStr *string

		if err := rows.Scan(&e.ID, &jobIDStr, &unitIDStr, &workerIDStr, &e.Source, &e.Level,
			&e.Message, &extraJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		e.JobID = domain.JobID(jobIDStr)
		if unitIDStr != nil {
			u := domain.UnitID(*unitIDStr)
			e.UnitID = &u
		}
		if workerIDStr != nil {
			w := domain.WorkerID(*workerIDStr)
			e.WorkerID = &w
		}
		if err := json.Unmarshal([]byte(extraJSON), &e.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal log extra: %w", err)
		}
		if filter.JMESPath != "" {
			match, err := matchesJMESPath(filter.JMESPath, e.Extra)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *DuckDBStore) JobTotalCost(ctx context.Context, jobID domain.JobID) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM work_units WHERE job_id = ?`, string(jobID))
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *DuckDBStore) ActiveUnitsWithLatestEvent(ctx context.Context, jobID domain.JobID) ([]ActiveUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		unitSelectQuery+" WHERE job_id = ? AND status IN (?, ?) ORDER BY started_at ASC",
		string(jobID), string(domain.UnitAssigned), string(domain.UnitProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveUnit, 0, len(units))
	for _, u := range units {
		au := ActiveUnit{Unit: u}
		if len(u.Conversation) > 0 {
			last := u.Conversation[len(u.Conversation)-1]
			au.LatestType = last.Type
			au.LatestRaw = last.Raw
		}
		out = append(out, au)
	}
	return out, nil
}
