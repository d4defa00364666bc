package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
)

// AssignTag attributes a tag to a cow, closing any prior open
// ownership window at the same instant the new one opens. The whole
// reassignment is one transaction, so the one-open-window-per-tag
// invariant holds at every commit point.
func (s *Store) AssignTag(ctx context.Context, rfid string, cowID uuid.UUID, at time.Time) (*model.RFIDOwnership, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO rfid_tag (rfid_id) VALUES ($1) ON CONFLICT DO NOTHING`, rfid); err != nil {
		return nil, fmt.Errorf("postgres: upsert tag %s: %w", rfid, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rfid_ownership SET time_end = $2 WHERE rfid_id = $1 AND time_end IS NULL`,
		rfid, at); err != nil {
		return nil, fmt.Errorf("postgres: close open window for %s: %w", rfid, err)
	}

	own := &model.RFIDOwnership{RFID: rfid, CowID: cowID, TimeStart: at}
	err = tx.QueryRow(ctx,
		`INSERT INTO rfid_ownership (rfid_id, cow_id, time_start)
		VALUES ($1, $2, $3) RETURNING ownership_id`,
		rfid, cowID, at,
	).Scan(&own.OwnershipID)
	if err != nil {
		return nil, fmt.Errorf("postgres: open window for %s: %w", rfid, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tag assignment: %w", err)
	}
	return own, nil
}

// OwnershipHistory lists a tag's ownership windows, newest first.
func (s *Store) OwnershipHistory(ctx context.Context, rfid string) ([]model.RFIDOwnership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ownership_id, rfid_id, cow_id, time_start, time_end
		FROM rfid_ownership WHERE rfid_id = $1 ORDER BY time_start DESC`, rfid)
	if err != nil {
		return nil, fmt.Errorf("postgres: ownership history: %w", err)
	}
	defer rows.Close()

	var out []model.RFIDOwnership
	for rows.Next() {
		var o model.RFIDOwnership
		if err := rows.Scan(&o.OwnershipID, &o.RFID, &o.CowID, &o.TimeStart, &o.TimeEnd); err != nil {
			return nil, fmt.Errorf("postgres: scan ownership: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TagsForCow lists tags currently attributed to a cow (open windows).
func (s *Store) TagsForCow(ctx context.Context, cowID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rfid_id FROM rfid_ownership WHERE cow_id = $1 AND time_end IS NULL ORDER BY rfid_id`,
		cowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: tags for cow: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("postgres: scan tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}
