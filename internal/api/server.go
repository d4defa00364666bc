package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/auth"
	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/store/postgres"
	"cattle-backendv3/internal/stream"
)

// Store is the persistence surface the API handlers depend on.
// *postgres.Store satisfies it; tests substitute fakes.
type Store interface {
	CreateFarmer(ctx context.Context, f *model.Farmer) error
	FarmerByEmail(ctx context.Context, email string) (*model.Farmer, error)
	FarmerByID(ctx context.Context, id uuid.UUID) (*model.Farmer, error)
	SetTOTPSecret(ctx context.Context, farmerID uuid.UUID, secret string) error

	CreateCow(ctx context.Context, c *model.Cow) error
	CowByID(ctx context.Context, cowID uuid.UUID) (*model.Cow, error)
	CowsForFarmer(ctx context.Context, farmerID uuid.UUID) ([]model.Cow, error)
	UpdateCow(ctx context.Context, cowID uuid.UUID, name, dob, gender *string) (*model.Cow, error)
	DeleteCow(ctx context.Context, cowID uuid.UUID) error

	CreatePregnancy(ctx context.Context, p *model.Pregnancy) error
	PregnanciesForCow(ctx context.Context, cowID uuid.UUID) ([]model.Pregnancy, error)
	ClosePregnancy(ctx context.Context, farmerID uuid.UUID, pregnancyID int64, end time.Time) (*model.Pregnancy, error)
	DeletePregnancy(ctx context.Context, farmerID uuid.UUID, pregnancyID int64) error

	AssignTag(ctx context.Context, rfid string, cowID uuid.UUID, at time.Time) (*model.RFIDOwnership, error)
	OwnershipHistory(ctx context.Context, rfid string) ([]model.RFIDOwnership, error)
	TagsForCow(ctx context.Context, cowID uuid.UUID) ([]string, error)

	SensorHistory(ctx context.Context, cowID uuid.UUID, since time.Time) ([]postgres.SensorPoint, error)
	SessionsForCow(ctx context.Context, cowID uuid.UUID, from, to *time.Time) ([]model.EatSession, error)
	DailyRollup(ctx context.Context, cowID uuid.UUID, since time.Time) ([]postgres.DailyStat, error)
	AnomaliesForFarmer(ctx context.Context, farmerID uuid.UUID, cowID *uuid.UUID, since time.Time) ([]postgres.AnomalyRecord, error)
}

// Trainer is the fire-and-forget training trigger surface.
type Trainer interface {
	TrainAllAsync(ctx context.Context) bool
	TrainCowAsync(ctx context.Context, cowID uuid.UUID)
	ScoreAsync(ctx context.Context)
}

// Server is the HTTP API.
type Server struct {
	store   Store
	tokens  *auth.TokenService
	trainer Trainer
	cowHub  *stream.Hub
	sysHub  *stream.Hub

	// OnStreamClient tracks connected live-stream clients (for metrics).
	OnStreamClient func(transport string, delta int)

	srv *http.Server
	now func() time.Time

	// done wakes long-lived stream handlers on shutdown;
	// http.Server.Shutdown waits for handlers instead of cancelling
	// their request contexts, so they need their own signal.
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer wires the API onto addr.
func NewServer(addr string, store Store, tokens *auth.TokenService, trainer Trainer, cowHub, sysHub *stream.Hub) *Server {
	s := &Server{
		store:   store,
		tokens:  tokens,
		trainer: trainer,
		cowHub:  cowHub,
		sysHub:  sysHub,
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: accessLog(s.routes()),
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/totp/setup", s.requireAuth(s.handleTOTPSetup))

	mux.HandleFunc("POST /api/cows", s.requireAuth(s.handleCreateCow))
	mux.HandleFunc("GET /api/cows", s.requireAuth(s.handleListCows))
	mux.HandleFunc("GET /api/cows/{cowID}", s.requireAuth(s.handleGetCow))
	mux.HandleFunc("PATCH /api/cows/{cowID}", s.requireAuth(s.handleUpdateCow))
	mux.HandleFunc("DELETE /api/cows/{cowID}", s.requireAuth(s.handleDeleteCow))

	mux.HandleFunc("POST /api/cows/{cowID}/pregnancies", s.requireAuth(s.handleCreatePregnancy))
	mux.HandleFunc("GET /api/cows/{cowID}/pregnancies", s.requireAuth(s.handleListPregnancies))
	mux.HandleFunc("POST /api/pregnancies/{pregnancyID}/close", s.requireAuth(s.handleClosePregnancy))
	mux.HandleFunc("DELETE /api/pregnancies/{pregnancyID}", s.requireAuth(s.handleDeletePregnancy))

	mux.HandleFunc("POST /api/rfid/assign", s.requireAuth(s.handleAssignTag))
	mux.HandleFunc("GET /api/rfid/{rfid}/history", s.requireAuth(s.handleOwnershipHistory))
	mux.HandleFunc("GET /api/cows/{cowID}/tags", s.requireAuth(s.handleCowTags))

	mux.HandleFunc("GET /api/cows/{cowID}/sensors", s.requireAuth(s.handleSensorHistory))
	mux.HandleFunc("GET /api/cows/{cowID}/sessions", s.requireAuth(s.handleSessionList))
	mux.HandleFunc("GET /api/cows/{cowID}/rollup/daily", s.requireAuth(s.handleDailyRollup))
	mux.HandleFunc("GET /api/cows/{cowID}/rollup/weekly", s.requireAuth(s.handleWeeklyRollup))
	mux.HandleFunc("GET /api/anomalies", s.requireAuth(s.handleAnomalies))

	mux.HandleFunc("POST /api/ml/train", s.requireAuth(s.handleTrainAll))
	mux.HandleFunc("POST /api/ml/train/{cowID}", s.requireAuth(s.handleTrainCow))
	mux.HandleFunc("POST /api/ml/score", s.requireAuth(s.handleScoreBacklog))

	mux.HandleFunc("GET /api/stream/cows/{cowID}", s.requireAuth(s.handleCowStream))
	mux.HandleFunc("GET /api/stream/system/{channel}", s.requireAuth(s.handleSystemStream))
	mux.HandleFunc("GET /api/ws/cows/{cowID}", s.requireAuth(s.handleCowWS))

	return mux
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the API server. Stream handlers are woken
// first so Shutdown does not wait out its deadline on them.
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.done) })
	s.srv.Shutdown(ctx)
}

// ownedCow loads the {cowID} path cow and enforces that the caller
// owns it. Writes the error response itself on failure.
func (s *Server) ownedCow(w http.ResponseWriter, r *http.Request) (*model.Cow, bool) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return nil, false
	}
	cowID, err := uuid.Parse(r.PathValue("cowID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cow id")
		return nil, false
	}
	cow, err := s.store.CowByID(r.Context(), cowID)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	if cow.FarmerID != claims.FarmerID {
		writeError(w, http.StatusForbidden, "not your animal")
		return nil, false
	}
	return cow, true
}
