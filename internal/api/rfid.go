package api

import (
	"net/http"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
)

type assignTagRequest struct {
	RFID  string    `json:"rfid_id"`
	CowID uuid.UUID `json:"cow_id"`
}

// handleAssignTag attributes a tag to one of the caller's cows,
// closing any previous ownership window atomically.
func (s *Server) handleAssignTag(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req assignTagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RFID == "" || req.CowID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "rfid_id and cow_id are required")
		return
	}

	cow, err := s.store.CowByID(r.Context(), req.CowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if cow.FarmerID != claims.FarmerID {
		writeError(w, http.StatusForbidden, "not your animal")
		return
	}

	own, err := s.store.AssignTag(r.Context(), req.RFID, req.CowID, s.now())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, own)
}

func (s *Server) handleOwnershipHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.OwnershipHistory(r.Context(), r.PathValue("rfid"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if history == nil {
		history = []model.RFIDOwnership{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCowTags(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	tags, err := s.store.TagsForCow(r.Context(), cow.CowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cow_id": cow.CowID, "tags": tags})
}
