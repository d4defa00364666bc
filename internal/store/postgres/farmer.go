package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cattle-backendv3/internal/model"
)

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a write rejected by a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// CreateFarmer inserts a new account. Returns ErrConflict when the
// email is already registered.
func (s *Store) CreateFarmer(ctx context.Context, f *model.Farmer) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO farmer (farmer_id, name, email, password_hash, totp_secret)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
		RETURNING created_at`,
		f.FarmerID, f.Name, f.Email, f.PasswordHash, f.TOTPSecret,
	).Scan(&f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("email %s: %w", f.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("postgres: create farmer: %w", err)
	}
	return nil
}

// FarmerByEmail loads an account for login.
func (s *Store) FarmerByEmail(ctx context.Context, email string) (*model.Farmer, error) {
	return s.farmerBy(ctx, `email = $1`, email)
}

// FarmerByID loads an account by id.
func (s *Store) FarmerByID(ctx context.Context, id uuid.UUID) (*model.Farmer, error) {
	return s.farmerBy(ctx, `farmer_id = $1`, id)
}

func (s *Store) farmerBy(ctx context.Context, where string, arg any) (*model.Farmer, error) {
	var f model.Farmer
	err := s.pool.QueryRow(ctx,
		`SELECT farmer_id, name, email, password_hash, totp_secret, created_at
		FROM farmer WHERE `+where, arg,
	).Scan(&f.FarmerID, &f.Name, &f.Email, &f.PasswordHash, &f.TOTPSecret, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("farmer: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load farmer: %w", err)
	}
	return &f, nil
}

// SetTOTPSecret stores the farmer's second-factor secret.
func (s *Store) SetTOTPSecret(ctx context.Context, farmerID uuid.UUID, secret string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE farmer SET totp_secret = $2 WHERE farmer_id = $1`, farmerID, secret)
	if err != nil {
		return fmt.Errorf("postgres: set totp secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("farmer %s: %w", farmerID, ErrNotFound)
	}
	return nil
}
