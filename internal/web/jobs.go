package web

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

type enqueueRequest struct {
	DocumentRef string `json:"document_ref"`
	Kind        string `json:"kind"`
	SizeBytes   int64  `json:"size_bytes"`
	Priority    string `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
}

type enqueueResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = string(inferKind(req.DocumentRef))
	}
	v := common.NewValidator().
		Field("document_ref", req.DocumentRef, common.Required, common.MaxLen(2048)).
		Field("kind", kind, common.Required).
		Field("priority", req.Priority, common.OneOf("", string(constants.PriorityLow),
			string(constants.PriorityMedium), string(constants.PriorityHigh))).
		Field("max_attempts", req.MaxAttempts, common.Between(0, 20))
	if err := v.AsAppError(); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.jobs.Enqueue(r.Context(), jobs.EnqueueRequest{
		DocumentRef: req.DocumentRef,
		Kind:        constants.DocumentKind(kind),
		SizeBytes:   req.SizeBytes,
		Priority:    constants.Priority(req.Priority),
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id.String())
	writeJSON(w, http.StatusAccepted, enqueueResponse{ID: id.String()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := repository.JobFilter{Limit: limit}
	for _, raw := range r.URL.Query()["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, constants.JobStatus(strings.ToLower(st)))
			}
		}
	}
	list, err := s.jobs.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*entity.ProcessingJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("http.job_cancel", "job_id", id, "status", j.Status)
	writeJSON(w, http.StatusOK, j)
}

// inferKind guesses the kind from the reference extension. Web pages without
// a known extension are treated as HTML.
func inferKind(ref string) constants.DocumentKind {
	ref = strings.TrimSpace(ref)
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		p = u.Path
	}
	if k := constants.MapExtToKind(path.Ext(p)); k != "" {
		return k
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return constants.KindHTML
	}
	return ""
}
