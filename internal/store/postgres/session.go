package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cattle-backendv3/internal/model"
)

// ResolveActiveCow maps a tag to the cow holding its open ownership
// window. ok=false when no open window exists.
func (s *Store) ResolveActiveCow(ctx context.Context, rfid string) (uuid.UUID, bool, error) {
	var cowID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT cow_id FROM rfid_ownership WHERE rfid_id = $1 AND time_end IS NULL`,
		rfid).Scan(&cowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("postgres: resolve tag %s: %w", rfid, err)
	}
	return cowID, true, nil
}

// InsertSession persists one finalized session and, when score is
// non-nil, its anomaly verdict in the same transaction. The anomaly
// insert is idempotent on (model_id, session_id).
func (s *Store) InsertSession(ctx context.Context, sess *model.EatSession, score *model.AnomalyScore) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO eat_session
			(session_id, device_id, rfid_id, cow_id, time_start, time_end, weight_start, weight_end, average_temp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.SessionID, sess.DeviceID, sess.RFID, sess.CowID,
		sess.TimeStart, sess.TimeEnd, sess.WeightStart, sess.WeightEnd, sess.AvgTemp)
	if err != nil {
		return fmt.Errorf("postgres: insert session %s: %w", sess.SessionID, err)
	}

	if score != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO anomaly (model_id, session_id, anomaly_score, is_anomaly)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (model_id, session_id) DO NOTHING`,
			score.ModelID, sess.SessionID, score.Score, score.IsAnomaly)
		if err != nil {
			return fmt.Errorf("postgres: insert anomaly for session %s: %w", sess.SessionID, err)
		}
	}

	return tx.Commit(ctx)
}

// SessionsForCow lists a cow's sessions newest first, optionally
// bounded to [from, to].
func (s *Store) SessionsForCow(ctx context.Context, cowID uuid.UUID, from, to *time.Time) ([]model.EatSession, error) {
	q := `SELECT session_id, device_id, rfid_id, cow_id, time_start, time_end,
			weight_start, weight_end, average_temp
		FROM eat_session WHERE cow_id = $1`
	args := []any{cowID}
	if from != nil {
		args = append(args, *from)
		q += fmt.Sprintf(" AND time_start >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		q += fmt.Sprintf(" AND time_start <= $%d", len(args))
	}
	q += " ORDER BY time_start DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows pgx.Rows) ([]model.EatSession, error) {
	var out []model.EatSession
	for rows.Next() {
		var sess model.EatSession
		if err := rows.Scan(&sess.SessionID, &sess.DeviceID, &sess.RFID, &sess.CowID,
			&sess.TimeStart, &sess.TimeEnd, &sess.WeightStart, &sess.WeightEnd, &sess.AvgTemp); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
