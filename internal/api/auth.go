package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/auth"
	"cattle-backendv3/internal/model"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "name, email and a password of at least 8 characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	farmer := &model.Farmer{
		FarmerID:     uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.store.CreateFarmer(r.Context(), farmer); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, farmer)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	farmer, err := s.store.FarmerByEmail(r.Context(), req.Email)
	if err != nil || !auth.CheckPassword(farmer.PasswordHash, req.Password) {
		// One answer for unknown email and wrong password.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if farmer.TOTPSecret != "" && !auth.ValidateTOTP(farmer.TOTPSecret, req.TOTPCode) {
		writeError(w, http.StatusUnauthorized, "invalid one-time code")
		return
	}

	token, expiry, err := s.tokens.Mint(farmer.FarmerID, farmer.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiry.Format(time.RFC3339),
	})
}

// handleTOTPSetup provisions a second factor for the caller and
// returns the enrollment URL. Subsequent logins require a code.
func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	secret, url, err := auth.GenerateTOTPSecret(claims.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.SetTOTPSecret(r.Context(), claims.FarmerID, secret); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":         secret,
		"enrollment_url": url,
	})
}
