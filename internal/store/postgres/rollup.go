package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SensorPoint is one raw sample attributed to a cow through the
// ownership window that was open when the sample arrived.
type SensorPoint struct {
	Time     time.Time `json:"time"`
	DeviceID string    `json:"device_id"`
	Weight   float64   `json:"weight"`
	TempC    float64   `json:"temperature_c"`
}

// SensorHistory returns the cow's raw samples in [since, now], oldest
// first. The ownership join scopes each sample to the window during
// which its tag belonged to this cow.
func (s *Store) SensorHistory(ctx context.Context, cowID uuid.UUID, since time.Time) ([]SensorPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT os.time, os.device_id, os.weight, os.temperature
		FROM output_sensor os
		JOIN rfid_ownership ro ON ro.rfid_id = os.rfid_id
			AND os.time >= ro.time_start
			AND (ro.time_end IS NULL OR os.time < ro.time_end)
		WHERE ro.cow_id = $1 AND os.time >= $2
		ORDER BY os.time`,
		cowID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: sensor history: %w", err)
	}
	defer rows.Close()

	var out []SensorPoint
	for rows.Next() {
		var p SensorPoint
		if err := rows.Scan(&p.Time, &p.DeviceID, &p.Weight, &p.TempC); err != nil {
			return nil, fmt.Errorf("postgres: scan sensor point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DailyStat is one day of aggregated feeding activity for a cow.
type DailyStat struct {
	Day              time.Time `json:"day"`
	SessionCount     int       `json:"session_count"`
	TotalDurationSec float64   `json:"total_duration_seconds"`
	TotalConsumption float64   `json:"total_consumption"`
	MeanTemp         float64   `json:"mean_temperature"`
	AnomalyCount     int       `json:"anomaly_count"`
}

// DailyRollup aggregates the cow's sessions per day from since onward,
// newest day first. Days are UTC calendar days regardless of the
// database TimeZone. A session counts as anomalous when any model
// labeled it so.
func (s *Store) DailyRollup(ctx context.Context, cowID uuid.UUID, since time.Time) ([]DailyStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('day', es.time_start AT TIME ZONE 'UTC') AS day,
			count(*),
			coalesce(sum(extract(epoch FROM es.time_end - es.time_start)), 0),
			coalesce(sum(es.weight_start - es.weight_end), 0),
			coalesce(avg(es.average_temp), 0),
			count(*) FILTER (WHERE a.is_anomaly)
		FROM eat_session es
		LEFT JOIN LATERAL (
			SELECT bool_or(is_anomaly) AS is_anomaly FROM anomaly WHERE session_id = es.session_id
		) a ON true
		WHERE es.cow_id = $1 AND es.time_start >= $2
		GROUP BY day
		ORDER BY day DESC`,
		cowID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: daily rollup: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Day, &d.SessionCount, &d.TotalDurationSec,
			&d.TotalConsumption, &d.MeanTemp, &d.AnomalyCount); err != nil {
			return nil, fmt.Errorf("postgres: scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AnomalyRecord is one anomalous session for the anomaly listing.
type AnomalyRecord struct {
	ModelID     int64     `json:"model_id"`
	SessionID   uuid.UUID `json:"session_id"`
	CowID       uuid.UUID `json:"cow_id"`
	CowName     string    `json:"cow_name"`
	Score       float64   `json:"anomaly_score"`
	TimeStart   time.Time `json:"time_start"`
	TimeEnd     time.Time `json:"time_end"`
	Consumption float64   `json:"total_consumption"`
}

// AnomaliesForFarmer lists anomalous sessions across the farmer's herd
// from since onward, newest first. cowID narrows the listing to one
// animal when non-nil.
func (s *Store) AnomaliesForFarmer(ctx context.Context, farmerID uuid.UUID, cowID *uuid.UUID, since time.Time) ([]AnomalyRecord, error) {
	q := `SELECT a.model_id, a.session_id, es.cow_id, c.name, a.anomaly_score,
			es.time_start, es.time_end, es.weight_start - es.weight_end
		FROM anomaly a
		JOIN eat_session es ON es.session_id = a.session_id
		JOIN cow c ON c.cow_id = es.cow_id
		WHERE c.farmer_id = $1 AND a.is_anomaly AND es.time_start >= $2`
	args := []any{farmerID, since}
	if cowID != nil {
		args = append(args, *cowID)
		q += fmt.Sprintf(" AND es.cow_id = $%d", len(args))
	}
	q += " ORDER BY es.time_start DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: anomaly listing: %w", err)
	}
	defer rows.Close()

	var out []AnomalyRecord
	for rows.Next() {
		var r AnomalyRecord
		if err := rows.Scan(&r.ModelID, &r.SessionID, &r.CowID, &r.CowName, &r.Score,
			&r.TimeStart, &r.TimeEnd, &r.Consumption); err != nil {
			return nil, fmt.Errorf("postgres: scan anomaly: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
