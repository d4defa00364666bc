package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ── Storage port interfaces ──
// These decouple the pipeline from the concrete Postgres gateway so the
// state machine, buffer and trainer can be tested against fakes.

// SampleFlusher durably places a batch of raw samples, upserting the
// devices and RFID tags seen in the batch first (referential integrity).
type SampleFlusher interface {
	FlushSamples(ctx context.Context, batch []Sample) error
}

// CowResolver maps an RFID tag to the cow holding its open ownership
// window. ok=false when no open window exists for the tag.
type CowResolver interface {
	ResolveActiveCow(ctx context.Context, rfid string) (cowID uuid.UUID, ok bool, err error)
}

// SessionSink persists a finalized session and, when a model scored it,
// the anomaly verdict in the same transaction.
type SessionSink interface {
	InsertSession(ctx context.Context, sess *EatSession, score *AnomalyScore) error
}

// ModelSource loads the active model for a cow, falling back to the
// nil-cow global model. Returns nil, nil when neither exists.
type ModelSource interface {
	ActiveModelForCow(ctx context.Context, cowID uuid.UUID) (*MLModel, error)
}

// TrainerStore is the storage surface of the training driver.
type TrainerStore interface {
	ModelSource
	ListCowIDs(ctx context.Context) ([]uuid.UUID, error)
	SessionsForTraining(ctx context.Context, cowID uuid.UUID, start, end time.Time) ([]EatSession, error)
	SaveNewModel(ctx context.Context, m *MLModel) error
	UnscoredSessions(ctx context.Context, limit int) ([]EatSession, error)
	SaveAnomalyScores(ctx context.Context, scores []AnomalyScore) error
}

// Broadcaster fans a serialized event out to every subscriber of a key.
// Publish never blocks on slow subscribers.
type Broadcaster interface {
	Publish(key string, payload []byte)
}
