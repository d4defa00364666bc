package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cattle-backendv3/internal/model"
)

// CreateCow registers an animal under its farmer.
func (s *Store) CreateCow(ctx context.Context, c *model.Cow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cow (cow_id, farmer_id, name, date_of_birth, gender)
		VALUES ($1, $2, $3, $4, $5)`,
		c.CowID, c.FarmerID, c.Name, c.DateOfBirth, c.Gender)
	if err != nil {
		return fmt.Errorf("postgres: create cow: %w", err)
	}
	return nil
}

// CowByID loads one cow.
func (s *Store) CowByID(ctx context.Context, cowID uuid.UUID) (*model.Cow, error) {
	var c model.Cow
	err := s.pool.QueryRow(ctx,
		`SELECT cow_id, farmer_id, name, date_of_birth, gender FROM cow WHERE cow_id = $1`,
		cowID,
	).Scan(&c.CowID, &c.FarmerID, &c.Name, &c.DateOfBirth, &c.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cow %s: %w", cowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load cow: %w", err)
	}
	return &c, nil
}

// CowsForFarmer lists a farmer's herd.
func (s *Store) CowsForFarmer(ctx context.Context, farmerID uuid.UUID) ([]model.Cow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cow_id, farmer_id, name, date_of_birth, gender
		FROM cow WHERE farmer_id = $1 ORDER BY name`, farmerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cows: %w", err)
	}
	defer rows.Close()

	var out []model.Cow
	for rows.Next() {
		var c model.Cow
		if err := rows.Scan(&c.CowID, &c.FarmerID, &c.Name, &c.DateOfBirth, &c.Gender); err != nil {
			return nil, fmt.Errorf("postgres: scan cow: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCow patches the mutable cow fields; nil pointers keep the
// current value.
func (s *Store) UpdateCow(ctx context.Context, cowID uuid.UUID, name *string, dob *string, gender *string) (*model.Cow, error) {
	var c model.Cow
	err := s.pool.QueryRow(ctx,
		`UPDATE cow SET
			name = COALESCE($2, name),
			date_of_birth = COALESCE($3::date, date_of_birth),
			gender = COALESCE($4, gender)
		WHERE cow_id = $1
		RETURNING cow_id, farmer_id, name, date_of_birth, gender`,
		cowID, name, dob, gender,
	).Scan(&c.CowID, &c.FarmerID, &c.Name, &c.DateOfBirth, &c.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cow %s: %w", cowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update cow: %w", err)
	}
	return &c, nil
}

// DeleteCow removes the cow and, via cascade, its sessions, ownership
// windows, pregnancies and models.
func (s *Store) DeleteCow(ctx context.Context, cowID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cow WHERE cow_id = $1`, cowID)
	if err != nil {
		return fmt.Errorf("postgres: delete cow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cow %s: %w", cowID, ErrNotFound)
	}
	return nil
}
