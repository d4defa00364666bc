package model

import (
	"time"

	"github.com/google/uuid"
)

// MLModel is one trained anomaly model artifact. CowID nil marks the
// global fallback bucket. At most one active model exists per cow and
// one for the nil bucket.
type MLModel struct {
	ModelID       int64      `json:"model_id"`
	CowID         *uuid.UUID `json:"cow_id,omitempty"`
	Version       string     `json:"model_version"`
	Data          []byte     `json:"-"`
	TrainingStart time.Time  `json:"training_data_start"`
	TrainingEnd   time.Time  `json:"training_data_end"`
	Metrics       string     `json:"metrics"` // JSON document
	Active        bool       `json:"is_active"`
}

// AnomalyScore is the verdict of one model on one session.
// Unique on (ModelID, SessionID).
type AnomalyScore struct {
	ModelID   int64     `json:"model_id"`
	SessionID uuid.UUID `json:"session_id"`
	Score     float64   `json:"anomaly_score"`
	IsAnomaly bool      `json:"is_anomaly"`
}
