// Package ml implements the from-scratch isolation forest used for
// per-cow feeding anomaly detection, its portable binary artifact
// format, the feature extractor, and the training/scoring driver.
package ml

import (
	"math"

	"cattle-backendv3/internal/model"
)

// FeatureCount is the fixed length of the extracted vector.
const FeatureCount = 7

// ExtractFeatures maps one finalized session to its feature vector.
// Pure and deterministic; NaN and infinite intermediates map to 0.
//
// Order is load-bearing (trained models index by position):
//
//	0: duration minutes
//	1: total consumption
//	2: consumption rate per minute
//	3: sin(2π·hour/24) of the start instant
//	4: cos(2π·hour/24)
//	5: day-of-week index, Monday=0
//	6: mean temperature
func ExtractFeatures(s *model.EatSession) [FeatureCount]float64 {
	durationSec := s.TimeEnd.Sub(s.TimeStart).Seconds()
	consumption := s.WeightStart - s.WeightEnd

	ratePerMin := 0.0
	if durationSec > 0 {
		ratePerMin = (consumption / durationSec) * 60
	}

	hour := float64(s.TimeStart.Hour())
	// Monday=0 .. Sunday=6, matching the weekday convention the models
	// were defined against (time.Weekday has Sunday=0).
	dow := (int(s.TimeStart.Weekday()) + 6) % 7

	v := [FeatureCount]float64{
		durationSec / 60.0,
		consumption,
		ratePerMin,
		math.Sin(2 * math.Pi * hour / 24.0),
		math.Cos(2 * math.Pi * hour / 24.0),
		float64(dow),
		s.AvgTemp,
	}
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			v[i] = 0
		}
	}
	return v
}

// FeatureMatrix extracts features for a slice of sessions.
func FeatureMatrix(sessions []model.EatSession) [][]float64 {
	out := make([][]float64, len(sessions))
	for i := range sessions {
		v := ExtractFeatures(&sessions[i])
		out[i] = v[:]
	}
	return out
}
