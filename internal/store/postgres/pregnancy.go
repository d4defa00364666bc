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

// CreatePregnancy records a new pregnancy for a cow.
func (s *Store) CreatePregnancy(ctx context.Context, p *model.Pregnancy) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cow_pregnancy (cow_id, time_start, time_end)
		VALUES ($1, $2, $3) RETURNING pregnancy_id`,
		p.CowID, p.TimeStart, p.TimeEnd,
	).Scan(&p.PregnancyID)
	if err != nil {
		return fmt.Errorf("postgres: create pregnancy: %w", err)
	}
	return nil
}

// PregnanciesForCow lists a cow's pregnancy records, newest first.
func (s *Store) PregnanciesForCow(ctx context.Context, cowID uuid.UUID) ([]model.Pregnancy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pregnancy_id, cow_id, time_start, time_end
		FROM cow_pregnancy WHERE cow_id = $1 ORDER BY time_start DESC`, cowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pregnancies: %w", err)
	}
	defer rows.Close()

	var out []model.Pregnancy
	for rows.Next() {
		var p model.Pregnancy
		if err := rows.Scan(&p.PregnancyID, &p.CowID, &p.TimeStart, &p.TimeEnd); err != nil {
			return nil, fmt.Errorf("postgres: scan pregnancy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClosePregnancy sets the end instant of an open pregnancy record.
// The record must belong to a cow owned by farmerID.
func (s *Store) ClosePregnancy(ctx context.Context, farmerID uuid.UUID, pregnancyID int64, end time.Time) (*model.Pregnancy, error) {
	var p model.Pregnancy
	err := s.pool.QueryRow(ctx,
		`UPDATE cow_pregnancy cp SET time_end = $3
		FROM cow c
		WHERE cp.pregnancy_id = $2 AND cp.time_end IS NULL
			AND c.cow_id = cp.cow_id AND c.farmer_id = $1
		RETURNING cp.pregnancy_id, cp.cow_id, cp.time_start, cp.time_end`,
		farmerID, pregnancyID, end,
	).Scan(&p.PregnancyID, &p.CowID, &p.TimeStart, &p.TimeEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("open pregnancy %d: %w", pregnancyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: close pregnancy: %w", err)
	}
	return &p, nil
}

// DeletePregnancy removes a pregnancy record. The record must belong to
// a cow owned by farmerID.
func (s *Store) DeletePregnancy(ctx context.Context, farmerID uuid.UUID, pregnancyID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cow_pregnancy cp
		USING cow c
		WHERE cp.pregnancy_id = $2
			AND c.cow_id = cp.cow_id AND c.farmer_id = $1`,
		farmerID, pregnancyID)
	if err != nil {
		return fmt.Errorf("postgres: delete pregnancy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pregnancy %d: %w", pregnancyID, ErrNotFound)
	}
	return nil
}
