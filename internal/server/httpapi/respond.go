package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/server/queue"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrTaskBusy),
		errors.Is(err, queue.ErrNotRunning),
		errors.Is(err, queue.ErrNotPending),
		errors.Is(err, queue.ErrNotFailed),
		errors.Is(err, queue.ErrRetryLimit):
		return http.StatusConflict
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, common.ErrorInternal.Error())
		return
	}
	writeError(w, status, err.Error())
}
