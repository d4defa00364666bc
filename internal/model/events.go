package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names carried in the `event` field of stream envelopes.
const (
	EventConnected      = "connected"
	EventSensorUpdate   = "sensor_update"
	EventSessionEnd     = "session_end"
	EventSessionTimeout = "session_timeout"
	EventTrainingStatus = "ml_training_status"
	EventAnomalyAlert   = "anomaly_alert"
)

// System channel keys for the system keyspace of the hub.
const (
	ChannelMLTraining   = "ml_training_status"
	ChannelGlobalAlerts = "global_alerts"
)

// SensorUpdateEvent is broadcast on a cow's channel for every sample
// processed inside an active session.
type SensorUpdateEvent struct {
	Event     string    `json:"event"`
	CowID     uuid.UUID `json:"cow_id"`
	DeviceID  string    `json:"device_id"`
	Weight    float64   `json:"weight"`
	TempC     float64   `json:"temperature_c"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEndEvent is broadcast on a cow's channel when a session is
// finalized and persisted.
type SessionEndEvent struct {
	Event     string    `json:"event"`
	CowID     uuid.UUID `json:"cow_id"`
	DeviceID  string    `json:"device_id"`
	SessionID uuid.UUID `json:"session_id"`
	TimeStart time.Time `json:"time_start"`
	TimeEnd   time.Time `json:"time_end"`
	Consumed  float64   `json:"total_consumption"`
	AvgTemp   float64   `json:"average_temp"`
	Scored    bool      `json:"scored"`
	IsAnomaly bool      `json:"is_anomaly"`
	Score     float64   `json:"anomaly_score"`
}

// SessionTimeoutEvent is broadcast just before the reaper finalizes an
// idle session.
type SessionTimeoutEvent struct {
	Event    string    `json:"event"`
	CowID    uuid.UUID `json:"cow_id"`
	DeviceID string    `json:"device_id"`
	IdleFor  float64   `json:"idle_seconds"`
}

// TrainingStatusEvent is published on the ml_training_status system
// channel by the training driver.
type TrainingStatusEvent struct {
	Event   string     `json:"event"`
	Phase   string     `json:"phase"` // started, trained, skipped, failed, finished
	CowID   *uuid.UUID `json:"cow_id,omitempty"`
	Version string     `json:"model_version,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}

// AnomalyAlertEvent is published on the global_alerts system channel
// when a freshly finalized session is scored anomalous.
type AnomalyAlertEvent struct {
	Event     string    `json:"event"`
	CowID     uuid.UUID `json:"cow_id"`
	DeviceID  string    `json:"device_id"`
	SessionID uuid.UUID `json:"session_id"`
	Score     float64   `json:"anomaly_score"`
	Consumed  float64   `json:"total_consumption"`
	TimeEnd   time.Time `json:"time_end"`
}

// MarshalEvent JSON-encodes an event envelope. Errors are ignored on
// the hot path; all event types here marshal cleanly.
func MarshalEvent(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
