package model

import (
	"time"

	"github.com/google/uuid"
)

// EatSession is one finalized feeding interval for a cow at a device.
// Invariants: TimeEnd > TimeStart and WeightEnd < WeightStart (candidates
// violating the weight rule are discarded before insert).
type EatSession struct {
	SessionID   uuid.UUID `json:"session_id"`
	DeviceID    string    `json:"device_id"`
	RFID        string    `json:"rfid_id"`
	CowID       uuid.UUID `json:"cow_id"`
	TimeStart   time.Time `json:"time_start"`
	TimeEnd     time.Time `json:"time_end"`
	WeightStart float64   `json:"weight_start"`
	WeightEnd   float64   `json:"weight_end"`
	AvgTemp     float64   `json:"average_temp"`
}

// Duration returns the session length.
func (s *EatSession) Duration() time.Duration {
	return s.TimeEnd.Sub(s.TimeStart)
}

// Consumption returns the total feed mass consumed.
func (s *EatSession) Consumption() float64 {
	return s.WeightStart - s.WeightEnd
}
