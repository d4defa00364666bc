package api

import (
	"context"
	"net/http"
)

// handleTrainAll fires a full training cycle and returns immediately.
// Progress is streamed on the ml_training_status system channel.
// Background work outlives the request, so it runs detached from the
// request context.
func (s *Server) handleTrainAll(w http.ResponseWriter, r *http.Request) {
	if !s.trainer.TrainAllAsync(context.Background()) {
		writeError(w, http.StatusConflict, "a training cycle is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"channel": "ml_training_status",
	})
}

// handleScoreBacklog fires one scoring backfill pass over sessions
// that have no anomaly verdict yet.
func (s *Server) handleScoreBacklog(w http.ResponseWriter, r *http.Request) {
	s.trainer.ScoreAsync(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleTrainCow fires a single-cow retrain for one of the caller's
// animals.
func (s *Server) handleTrainCow(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	s.trainer.TrainCowAsync(context.Background(), cow.CowID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"cow_id":  cow.CowID,
		"channel": "ml_training_status",
	})
}
