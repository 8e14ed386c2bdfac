package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/orchestrator"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" {
		filtered := make([]domain.Job, 0, len(jobs))
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type createJobRequest struct {
	Name                 string         `json:"name"`
	UserIntent           string         `json:"user_intent"`
	EnumeratorType       string         `json:"enumerator_type"`
	EnumeratorConfig     map[string]any `json:"enumerator_config"`
	EnumeratorApproved   bool           `json:"enumerator_approved"`
	MaxWorkers           int            `json:"max_workers"`
	MaxRetries           int            `json:"max_retries"`
	PostProcessingPrompt string         `json:"post_processing_prompt"`
	Metadata             map[string]string `json:"metadata"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"code":"BAD_REQUEST","message":"invalid JSON body"}}`, http.StatusBadRequest)
		return
	}

	result, err := s.orch.CreateJob(r.Context(), orchestrator.CreateJobParams{
		Name:                 req.Name,
		UserIntent:           req.UserIntent,
		EnumeratorType:       req.EnumeratorType,
		EnumeratorSettings:   req.EnumeratorConfig,
		EnumeratorApproved:   req.EnumeratorApproved,
		MaxWorkers:           req.MaxWorkers,
		MaxRetries:           req.MaxRetries,
		PostProcessingPrompt: req.PostProcessingPrompt,
		Metadata:             req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":             true,
		"job_id":              result.JobID,
		"total_items":         result.TotalItems,
		"enumerator_type":     result.EnumeratorType,
		"worker_prompt":       result.WorkerPrompt,
		"has_post_processing": result.HasPostProcessing,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	job, err := s.st.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleGetJobUnits(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	units, err := s.st.ListUnitsForJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]domain.WorkUnit, 0, len(units))
		for _, u := range units {
			if string(u.Status) == status {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	writeJSON(w, map[string]any{"units": units, "count": len(units)})
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unitID := domain.UnitID(mux.Vars(r)["unit_id"])
	unit, err := s.st.GetWorkUnit(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"unit": unit})
}

func (s *Server) handleKillUnit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := domain.JobID(vars["job_id"])
	unitID := domain.UnitID(vars["unit_id"])
	if err := s.orch.KillUnit(r.Context(), jobID, unitID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "work unit process killed"})
}

func (s *Server) handleRestartUnit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := domain.JobID(vars["job_id"])
	unitID := domain.UnitID(vars["unit_id"])
	if err := s.orch.RestartUnit(r.Context(), jobID, unitID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "work unit reset to pending", "unit_id": unitID})
}

func (s *Server) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	if _, err := s.st.GetJob(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := domain.LogFilter{
		Source:   q.Get("source"),
		Level:    q.Get("level"),
		JMESPath: q.Get("jmespath"),
		Limit:    parseIntOrDefault(q.Get("limit"), 200),
	}

	logs, err := s.st.QueryLogs(r.Context(), jobID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"logs": logs, "total": len(logs), "limit": filter.Limit})
}

func (s *Server) handleGetJobLiveActivity(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	job, err := s.st.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	active, err := s.st.ActiveUnitsWithLatestEvent(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"job_id":       jobID,
		"job_status":   job.Status,
		"active_units": active,
	})
}

func (s *Server) handleGetJobExecutorStatus(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	view, err := s.orch.GetJobStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"job_id":      jobID,
		"job_name":    view.Job.Name,
		"job_status":  view.Job.Status,
		"executor": map[string]any{
			"alive": view.ExecutorAlive,
			"pid":   view.ExecutorPID,
		},
		"metadata": view.Job.Metadata,
	})
}

type startJobRequest struct {
	Approve  *bool `json:"approve"`
	SkipTest bool  `json:"skip_test"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	var req startJobRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := s.orch.StartJob(r.Context(), jobID, req.Approve, req.SkipTest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	result, err := s.orch.ResumeJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleBypassFailures(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	result, err := s.orch.BypassFailures(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":         true,
		"job_id":          jobID,
		"message":         result.Message,
		"failed_units":    result.FailedUnits,
		"completed_units": result.CompletedUnits,
	})
}

func (s *Server) handleKillJob(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	result, err := s.orch.KillJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "job_id": jobID, "message": result.Message})
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	result, err := s.orch.RestartJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":     true,
		"job_id":      jobID,
		"message":     "job restarted successfully",
		"executor_pid": result.ExecutorPID,
	})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(r.URL.Query().Get("job_id"))
	workers, err := s.st.ListWorkers(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"workers": workers, "count": len(workers)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	stats := map[string]any{"total_jobs": len(jobs)}
	var totalUnits, completedUnits, failedUnits int
	var totalCost float64
	statusCounts := map[domain.JobStatus]int{}
	for _, j := range jobs {
		statusCounts[j.Status]++
		totalUnits += j.TotalUnits
		completedUnits += j.CompletedUnits
		failedUnits += j.FailedUnits
		cost, err := s.st.JobTotalCost(r.Context(), j.ID)
		if err == nil {
			totalCost += cost
		}
	}
	stats["jobs_by_status"] = statusCounts
	stats["total_units"] = totalUnits
	stats["completed_units"] = completedUnits
	stats["failed_units"] = failedUnits
	stats["total_cost_usd"] = totalCost

	writeJSON(w, stats)
}

func parseIntOrDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
