package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
)

type cowRequest struct {
	Name        *string `json:"name"`
	DateOfBirth *string `json:"date_of_birth"` // YYYY-MM-DD
	Gender      *string `json:"gender"`
}

func validGender(g string) bool {
	return g == model.GenderMale || g == model.GenderFemale || g == model.GenderUnknown
}

func (s *Server) handleCreateCow(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req cowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	cow := &model.Cow{
		CowID:    uuid.New(),
		FarmerID: claims.FarmerID,
		Name:     *req.Name,
		Gender:   model.GenderUnknown,
	}
	if req.Gender != nil {
		if !validGender(*req.Gender) {
			writeError(w, http.StatusBadRequest, "gender must be MALE, FEMALE or UNKNOWN")
			return
		}
		cow.Gender = *req.Gender
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
			return
		}
		cow.DateOfBirth = &dob
	}

	if err := s.store.CreateCow(r.Context(), cow); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cow)
}

func (s *Server) handleListCows(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	cows, err := s.store.CowsForFarmer(r.Context(), claims.FarmerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if cows == nil {
		cows = []model.Cow{}
	}
	writeJSON(w, http.StatusOK, cows)
}

func (s *Server) handleGetCow(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cow)
}

func (s *Server) handleUpdateCow(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	var req cowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Gender != nil && !validGender(*req.Gender) {
		writeError(w, http.StatusBadRequest, "gender must be MALE, FEMALE or UNKNOWN")
		return
	}
	if req.DateOfBirth != nil {
		if _, err := time.Parse("2006-01-02", *req.DateOfBirth); err != nil {
			writeError(w, http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
			return
		}
	}

	updated, err := s.store.UpdateCow(r.Context(), cow.CowID, req.Name, req.DateOfBirth, req.Gender)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCow(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCow(r.Context(), cow.CowID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
