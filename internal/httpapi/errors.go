package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aulebatch/kernel/internal/domain"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError mirrors ErrorResponse.to_dict() in the original: a single
// {"error": {"code", "message"}} envelope, with the status chosen by
// mapping known sentinel errors before falling back to a generic 500.
func writeError(w http.ResponseWriter, err error) {
	code, status := classifyError(err)
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = err.Error()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func classifyError(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return "JOB_NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrUnitNotFound):
		return "UNIT_NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrWorkerNotFound):
		return "WORKER_NOT_FOUND", http.StatusNotFound
	case errors.Is(err, domain.ErrPendingApproval):
		return "PENDING_APPROVAL", http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownEnumerator):
		return "UNKNOWN_ENUMERATOR", http.StatusBadRequest
	case errors.Is(err, domain.ErrExecutorRunning):
		return "ALREADY_RUNNING", http.StatusConflict
	default:
		return "SERVER_ERROR", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
