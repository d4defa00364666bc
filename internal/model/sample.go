package model

import (
	"encoding/json"
	"time"
)

// Sample is one raw telemetry record from one feeder device at one instant.
// Weight is an opaque positive scalar; units are consistent per device.
// TempC is only meaningful when HasTemp is set; the temp field is
// optional on the wire.
type Sample struct {
	Timestamp time.Time `json:"timestamp"` // UTC
	DeviceID  string    `json:"device_id"`
	RFID      string    `json:"rfid_id,omitempty"` // empty = no tag present
	Weight    float64   `json:"weight"`
	TempC     float64   `json:"temperature_c"`
	HasTemp   bool      `json:"-"`
	IP        string    `json:"ip"`
}

// HasTag reports whether an RFID tag was present at this instant.
func (s *Sample) HasTag() bool { return s.RFID != "" }

// wirePayload is the JSON object published on the telemetry topic.
// Unknown fields are ignored; `ts` is optional.
type wirePayload struct {
	ID   string   `json:"id"`
	RFID *string  `json:"rfid"`
	W    *float64 `json:"w"`
	Temp *float64 `json:"temp"`
	IP   string   `json:"ip"`
	TS   string   `json:"ts"`
}

// DecodeSample parses a telemetry wire message into a Sample.
// A missing or unparseable `ts` falls back to now (server clock, UTC).
// Returns false if the payload is malformed or lacks a device id.
func DecodeSample(payload []byte, now time.Time) (Sample, bool) {
	var wp wirePayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return Sample{}, false
	}
	if wp.ID == "" {
		return Sample{}, false
	}

	ts := now.UTC()
	if wp.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, wp.TS); err == nil {
			ts = parsed.UTC()
		}
	}

	s := Sample{
		Timestamp: ts,
		DeviceID:  wp.ID,
		IP:        wp.IP,
	}
	if wp.RFID != nil {
		s.RFID = *wp.RFID
	}
	if wp.W != nil {
		s.Weight = *wp.W
	}
	if wp.Temp != nil {
		s.TempC = *wp.Temp
		s.HasTemp = true
	}
	return s, true
}
