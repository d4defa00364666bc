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

const modelColumns = `model_id, cow_id, model_version, model_data,
	training_data_start, training_data_end, metrics::text, is_active`

// ActiveModelForCow returns the cow's active model, falling back to
// the global (NULL cow) model. Returns nil, nil when neither exists.
func (s *Store) ActiveModelForCow(ctx context.Context, cowID uuid.UUID) (*model.MLModel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM machine_learning_model
		WHERE is_active AND (cow_id = $1 OR cow_id IS NULL)
		ORDER BY cow_id NULLS LAST LIMIT 1`, cowID)

	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: active model for cow %s: %w", cowID, err)
	}
	return m, nil
}

// SaveNewModel deactivates any prior active model for the same cow (or
// the NULL bucket) and inserts m as active, in one transaction.
func (s *Store) SaveNewModel(ctx context.Context, m *model.MLModel) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if m.CowID != nil {
		_, err = tx.Exec(ctx,
			`UPDATE machine_learning_model SET is_active = false WHERE cow_id = $1 AND is_active`,
			*m.CowID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE machine_learning_model SET is_active = false WHERE cow_id IS NULL AND is_active`)
	}
	if err != nil {
		return fmt.Errorf("postgres: deactivate prior models: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO machine_learning_model
			(cow_id, model_version, model_data, training_data_start, training_data_end, metrics, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING model_id`,
		m.CowID, m.Version, m.Data, m.TrainingStart, m.TrainingEnd, m.Metrics, m.Active,
	).Scan(&m.ModelID)
	if err != nil {
		return fmt.Errorf("postgres: insert model %s: %w", m.Version, err)
	}

	return tx.Commit(ctx)
}

// ListCowIDs returns every cow id (for the training cycle).
func (s *Store) ListCowIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT cow_id FROM cow ORDER BY cow_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cows: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan cow id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SessionsForTraining returns the cow's sessions with start in
// [start, end], oldest first.
func (s *Store) SessionsForTraining(ctx context.Context, cowID uuid.UUID, start, end time.Time) ([]model.EatSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, device_id, rfid_id, cow_id, time_start, time_end,
			weight_start, weight_end, average_temp
		FROM eat_session
		WHERE cow_id = $1 AND time_start >= $2 AND time_start <= $3
		ORDER BY time_start`,
		cowID, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: training sessions for cow %s: %w", cowID, err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UnscoredSessions returns sessions absent from the anomaly table,
// oldest first, up to limit.
func (s *Store) UnscoredSessions(ctx context.Context, limit int) ([]model.EatSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT es.session_id, es.device_id, es.rfid_id, es.cow_id, es.time_start, es.time_end,
			es.weight_start, es.weight_end, es.average_temp
		FROM eat_session es
		WHERE NOT EXISTS (SELECT 1 FROM anomaly a WHERE a.session_id = es.session_id)
		ORDER BY es.time_start
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: unscored sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SaveAnomalyScores batch-inserts verdicts, skipping duplicates on
// (model_id, session_id).
func (s *Store) SaveAnomalyScores(ctx context.Context, scores []model.AnomalyScore) error {
	if len(scores) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, sc := range scores {
		b.Queue(`INSERT INTO anomaly (model_id, session_id, anomaly_score, is_anomaly)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (model_id, session_id) DO NOTHING`,
			sc.ModelID, sc.SessionID, sc.Score, sc.IsAnomaly)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: save %d anomaly scores: %w", len(scores), err)
	}
	return nil
}

func scanModel(row pgx.Row) (*model.MLModel, error) {
	var m model.MLModel
	err := row.Scan(&m.ModelID, &m.CowID, &m.Version, &m.Data,
		&m.TrainingStart, &m.TrainingEnd, &m.Metrics, &m.Active)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
