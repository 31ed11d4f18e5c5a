package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps classified errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= 500 {
		s.logger.Error("http.error", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Code: httpCode(err), Message: err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	}
	switch common.CodeOf(err) {
	case common.CodeInvalidInput, common.CodeUnsupportedFormat:
		return http.StatusBadRequest
	case common.CodeDocumentTooLarge:
		return http.StatusRequestEntityTooLarge
	case common.CodeCanceled:
		return http.StatusRequestTimeout
	case common.CodeStoreWriteFailure, common.CodeSourceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func httpCode(err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, common.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, common.ErrConflict):
		return "CONFLICT"
	}
	return common.CodeOf(err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.NewAppError(common.CodeInvalidInput, "id must be a UUID", common.ErrInvalidInput)
	}
	return id, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.NewAppError(common.CodeInvalidInput, "limit must be a non-negative integer", common.ErrInvalidInput)
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewAppError(common.CodeInvalidInput, "invalid request body: "+err.Error(), common.ErrInvalidInput)
	}
	return nil
}
