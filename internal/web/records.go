package web

import (
	"net/http"
	"strconv"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.records.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetQA(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.records.GetQA(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	f, err := recordFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.records.ListRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*entity.NormalizedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": list})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.export == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Code: "UNIMPLEMENTED", Message: "export is not configured"})
		return
	}
	f, err := recordFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.export.ExportReviewXLSX(r.Context(), f.AdminRequired != nil && *f.AdminRequired, f.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="review.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func recordFilter(r *http.Request) (repository.RecordFilter, error) {
	limit, err := queryLimit(r, 0)
	if err != nil {
		return repository.RecordFilter{}, err
	}
	f := repository.RecordFilter{Limit: limit}
	if raw := r.URL.Query().Get("admin_required"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, common.NewAppError(common.CodeInvalidInput, "admin_required must be a boolean", common.ErrInvalidInput)
		}
		f.AdminRequired = &b
	}
	return f, nil
}
