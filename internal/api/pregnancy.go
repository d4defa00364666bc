package api

import (
	"net/http"
	"strconv"
	"time"

	"cattle-backendv3/internal/model"
)

type pregnancyRequest struct {
	TimeStart time.Time  `json:"time_start"`
	TimeEnd   *time.Time `json:"time_end,omitempty"`
}

func (s *Server) handleCreatePregnancy(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	var req pregnancyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TimeStart.IsZero() {
		writeError(w, http.StatusBadRequest, "time_start is required")
		return
	}
	if req.TimeEnd != nil && req.TimeEnd.Before(req.TimeStart) {
		writeError(w, http.StatusBadRequest, "time_end must not precede time_start")
		return
	}

	p := &model.Pregnancy{
		CowID:     cow.CowID,
		TimeStart: req.TimeStart.UTC(),
		TimeEnd:   req.TimeEnd,
	}
	if err := s.store.CreatePregnancy(r.Context(), p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPregnancies(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	list, err := s.store.PregnanciesForCow(r.Context(), cow.CowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []model.Pregnancy{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleClosePregnancy(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	id, err := strconv.ParseInt(r.PathValue("pregnancyID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pregnancy id")
		return
	}

	var req struct {
		TimeEnd time.Time `json:"time_end"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	end := req.TimeEnd
	if end.IsZero() {
		end = s.now()
	}

	// Ownership is enforced inside the store query: closing someone
	// else's record reads as not-found.
	p, err := s.store.ClosePregnancy(r.Context(), claims.FarmerID, id, end.UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePregnancy(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	id, err := strconv.ParseInt(r.PathValue("pregnancyID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pregnancy id")
		return
	}
	if err := s.store.DeletePregnancy(r.Context(), claims.FarmerID, id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
