package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aulebatch/kernel/internal/domain"
)

const ssePollInterval = 1 * time.Second

// handleJobEventsSSE streams a job's status and new log lines to the
// dashboard. The Job Executor runs as a separate detached process (see
// internal/supervisor), so there is no in-process publisher this
// handler could subscribe to — it polls the Store on a ticker instead
// and turns what it finds into SSE frames directly.
func (s *Server) handleJobEventsSSE(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(mux.Vars(r)["job_id"])
	if _, err := s.st.GetJob(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", jobID)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	var lastStatus domain.JobStatus
	var since time.Time
	var lastID int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := s.st.GetJob(ctx, jobID)
			if err != nil {
				return
			}
			if job.Status != lastStatus {
				lastStatus = job.Status
				data, _ := json.Marshal(job)
				fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
				flusher.Flush()
			}

			logs, err := s.st.QueryLogs(ctx, jobID, domain.LogFilter{Since: &since, Limit: 50})
			if err == nil && len(logs) > 0 {
				for _, entry := range logs {
					if entry.ID <= lastID {
						continue // Since is inclusive; skip lines already sent
					}
					data, _ := json.Marshal(entry)
					fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
					lastID = entry.ID
				}
				flusher.Flush()
				since = logs[len(logs)-1].Timestamp
			}

			if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
				fmt.Fprintf(w, "event: closed\ndata: %s\n\n", job.Status)
				flusher.Flush()
				return
			}
		}
	}
}
