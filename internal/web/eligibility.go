package web

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

type scoreRequest struct {
	Profile  entity.ApplicantProfile `json:"profile"`
	RecordID string                  `json:"record_id"`
}

type rankRequest struct {
	Profile entity.ApplicantProfile `json:"profile"`
	Limit   int                     `json:"limit"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := common.NewValidator().
		Field("record_id", req.RecordID, common.UUID).
		Field("profile.region", req.Profile.Region, common.Required)
	if err := v.AsAppError(); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.scoring.ScoreRecord(r.Context(), req.Profile, uuid.MustParse(req.RecordID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := common.NewValidator().
		Field("profile.region", req.Profile.Region, common.Required).
		Field("limit", req.Limit, common.Between(0, 10000))
	if err := v.AsAppError(); err != nil {
		s.writeError(w, r, err)
		return
	}
	ranked, err := s.scoring.Rank(r.Context(), req.Profile, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}
