// Package auth provides password hashing, access-token minting and the
// optional TOTP second factor for farmer accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the JWT payload carried by farmer access tokens.
type Claims struct {
	jwt.RegisteredClaims
	FarmerID uuid.UUID `json:"farmer_id"`
	Email    string    `json:"email"`
}

// TokenService mints and verifies HS256 access tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService creates a TokenService. Only the HS256 algorithm is
// supported; anything else is a configuration error.
func NewTokenService(secret, algorithm string, lifetime time.Duration) (*TokenService, error) {
	if algorithm != "HS256" {
		return nil, fmt.Errorf("auth: unsupported JWT algorithm %q", algorithm)
	}
	if secret == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	return &TokenService{secret: []byte(secret), lifetime: lifetime}, nil
}

// Mint issues an access token for the farmer.
func (t *TokenService) Mint(farmerID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiry := now.Add(t.lifetime)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   farmerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		FarmerID: farmerID,
		Email:    email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiry, nil
}

// Verify parses and validates an access token, returning its claims.
func (t *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
