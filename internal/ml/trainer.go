package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
)

const (
	// trainingWindow is how far back the daily cycle looks for sessions.
	trainingWindow = 30 * 24 * time.Hour

	// minTrainingSessions gates training: fewer sessions than this and
	// the cow is skipped for the day.
	minTrainingSessions = 10

	// scoringBatchLimit caps one backfill pass over unscored sessions.
	scoringBatchLimit = 1000

	versionPrefix = "iforest-v3-base-"
)

// Trainer drives the model lifecycle: the daily per-cow training cycle,
// on-demand retrains triggered over the API, and the hourly scoring
// backfill for sessions that were finalized while no model was active.
type Trainer struct {
	store  model.TrainerStore
	system model.Broadcaster

	trainingHour    int
	scoringInterval time.Duration

	now  func() time.Time
	seed func() int64

	// OnTrained and OnScored report completed work (for metrics).
	OnTrained func()
	OnScored  func(n int)

	// runMu serializes training cycles; a trigger that arrives while a
	// cycle is running is rejected rather than queued.
	runMu sync.Mutex
}

// NewTrainer creates a Trainer. system receives TrainingStatusEvent
// envelopes on the ml_training_status channel.
func NewTrainer(store model.TrainerStore, system model.Broadcaster, trainingHour int, scoringInterval time.Duration) *Trainer {
	return &Trainer{
		store:           store,
		system:          system,
		trainingHour:    trainingHour,
		scoringInterval: scoringInterval,
		now:             func() time.Time { return time.Now().UTC() },
		seed:            func() int64 { return time.Now().UnixNano() },
	}
}

// RunDaily blocks until ctx is cancelled, running a full training cycle
// at the configured wall-clock hour each day.
func (t *Trainer) RunDaily(ctx context.Context) {
	for {
		next := t.nextRun()
		log.Printf("[trainer] next daily training cycle at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(t.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := t.TrainAll(ctx); err != nil {
			log.Printf("[trainer] daily cycle error: %v", err)
		}
	}
}

// nextRun returns the next occurrence of trainingHour:00 UTC strictly
// after now.
func (t *Trainer) nextRun() time.Time {
	now := t.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.trainingHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// RunScoring blocks until ctx is cancelled, running the scoring
// backfill every scoringInterval.
func (t *Trainer) RunScoring(ctx context.Context) {
	ticker := time.NewTicker(t.scoringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := t.ScoreBacklog(ctx); err != nil {
				log.Printf("[trainer] scoring backfill error: %v", err)
			} else if n > 0 {
				log.Printf("[trainer] scoring backfill scored %d sessions", n)
			}
		}
	}
}

// TrainAll runs one training cycle over every cow. Per-cow failures are
// logged and published but do not abort the cycle.
func (t *Trainer) TrainAll(ctx context.Context) error {
	if !t.runMu.TryLock() {
		return fmt.Errorf("trainer: a training cycle is already running")
	}
	defer t.runMu.Unlock()

	t.publishStatus(model.TrainingStatusEvent{Event: model.EventTrainingStatus, Phase: "started"})
	start := t.now()

	cows, err := t.store.ListCowIDs(ctx)
	if err != nil {
		t.publishStatus(model.TrainingStatusEvent{
			Event: model.EventTrainingStatus, Phase: "failed", Detail: err.Error(),
		})
		return fmt.Errorf("trainer: list cows: %w", err)
	}

	trained, skipped := 0, 0
	for _, cowID := range cows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch err := t.trainCow(ctx, cowID); {
		case err == errTooFewSessions:
			skipped++
		case err != nil:
			log.Printf("[trainer] cow %s: training failed: %v", cowID, err)
			id := cowID
			t.publishStatus(model.TrainingStatusEvent{
				Event: model.EventTrainingStatus, Phase: "failed", CowID: &id, Detail: err.Error(),
			})
		default:
			trained++
		}
	}

	log.Printf("[trainer] cycle complete: %d trained, %d skipped of %d cows in %s",
		trained, skipped, len(cows), t.now().Sub(start).Round(time.Millisecond))
	t.publishStatus(model.TrainingStatusEvent{
		Event: model.EventTrainingStatus, Phase: "finished",
		Detail: fmt.Sprintf("trained=%d skipped=%d total=%d", trained, skipped, len(cows)),
	})
	return nil
}

// TrainAllAsync fires a full cycle in the background. Returns false when
// a cycle is already running.
func (t *Trainer) TrainAllAsync(ctx context.Context) bool {
	if !t.runMu.TryLock() {
		return false
	}
	t.runMu.Unlock()
	go func() {
		if err := t.TrainAll(ctx); err != nil {
			log.Printf("[trainer] async cycle: %v", err)
		}
	}()
	return true
}

// TrainCowAsync fires a single-cow retrain in the background.
func (t *Trainer) TrainCowAsync(ctx context.Context, cowID uuid.UUID) {
	go func() {
		switch err := t.trainCow(ctx, cowID); {
		case err == errTooFewSessions:
			// already published as skipped
		case err != nil:
			log.Printf("[trainer] cow %s: on-demand training failed: %v", cowID, err)
			id := cowID
			t.publishStatus(model.TrainingStatusEvent{
				Event: model.EventTrainingStatus, Phase: "failed", CowID: &id, Detail: err.Error(),
			})
		}
	}()
}

// ScoreAsync fires one scoring backfill pass in the background.
func (t *Trainer) ScoreAsync(ctx context.Context) {
	go func() {
		if n, err := t.ScoreBacklog(ctx); err != nil {
			log.Printf("[trainer] on-demand scoring: %v", err)
		} else {
			log.Printf("[trainer] on-demand scoring scored %d sessions", n)
		}
	}()
}

var errTooFewSessions = fmt.Errorf("trainer: too few sessions to train")

// trainCow trains and activates one model for cowID from its sessions
// in the trailing window.
func (t *Trainer) trainCow(ctx context.Context, cowID uuid.UUID) error {
	now := t.now()
	windowStart := now.Add(-trainingWindow)

	sessions, err := t.store.SessionsForTraining(ctx, cowID, windowStart, now)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if len(sessions) < minTrainingSessions {
		id := cowID
		t.publishStatus(model.TrainingStatusEvent{
			Event: model.EventTrainingStatus, Phase: "skipped", CowID: &id,
			Detail: fmt.Sprintf("%d sessions, need %d", len(sessions), minTrainingSessions),
		})
		return errTooFewSessions
	}

	forest := NewForest(DefaultEstimators, DefaultSubsample, DefaultContamination)
	rng := rand.New(rand.NewSource(t.seed()))
	if err := forest.Fit(FeatureMatrix(sessions), rng); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	blob, err := forest.Marshal()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	metrics, _ := json.Marshal(map[string]any{
		"feature_count":     FeatureCount,
		"session_count":     len(sessions),
		"anomaly_threshold": forest.Threshold,
	})

	id := cowID
	m := &model.MLModel{
		CowID:         &id,
		Version:       versionPrefix + now.Format("20060102"),
		Data:          blob,
		TrainingStart: windowStart,
		TrainingEnd:   now,
		Metrics:       string(metrics),
		Active:        true,
	}
	if err := t.store.SaveNewModel(ctx, m); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	log.Printf("[trainer] cow %s: trained %s on %d sessions (threshold=%.4f)",
		cowID, m.Version, len(sessions), forest.Threshold)
	if t.OnTrained != nil {
		t.OnTrained()
	}
	t.publishStatus(model.TrainingStatusEvent{
		Event: model.EventTrainingStatus, Phase: "trained", CowID: &id, Version: m.Version,
	})
	return nil
}

// ScoreBacklog scores up to scoringBatchLimit sessions that have no
// anomaly verdict yet, reusing one decoded forest per cow. Sessions
// whose cow has no active model are left for a later pass.
func (t *Trainer) ScoreBacklog(ctx context.Context) (int, error) {
	sessions, err := t.store.UnscoredSessions(ctx, scoringBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("trainer: load unscored sessions: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	type cachedModel struct {
		modelID int64
		forest  *Forest
	}
	cache := make(map[uuid.UUID]*cachedModel)

	var scores []model.AnomalyScore
	for i := range sessions {
		s := &sessions[i]

		cm, ok := cache[s.CowID]
		if !ok {
			m, err := t.store.ActiveModelForCow(ctx, s.CowID)
			if err != nil {
				return len(scores), fmt.Errorf("trainer: load model for cow %s: %w", s.CowID, err)
			}
			if m != nil {
				forest, err := Unmarshal(m.Data)
				if err != nil {
					log.Printf("[trainer] cow %s: corrupt model %d: %v", s.CowID, m.ModelID, err)
				} else {
					cm = &cachedModel{modelID: m.ModelID, forest: forest}
				}
			}
			cache[s.CowID] = cm
		}
		if cm == nil {
			continue
		}

		feats := ExtractFeatures(s)
		score, anomaly := cm.forest.Predict(feats[:])
		scores = append(scores, model.AnomalyScore{
			ModelID:   cm.modelID,
			SessionID: s.SessionID,
			Score:     score,
			IsAnomaly: anomaly,
		})
	}

	if len(scores) == 0 {
		return 0, nil
	}
	if err := t.store.SaveAnomalyScores(ctx, scores); err != nil {
		return 0, fmt.Errorf("trainer: save scores: %w", err)
	}
	if t.OnScored != nil {
		t.OnScored(len(scores))
	}
	return len(scores), nil
}

func (t *Trainer) publishStatus(ev model.TrainingStatusEvent) {
	if t.system == nil {
		return
	}
	t.system.Publish(model.ChannelMLTraining, model.MarshalEvent(ev))
}
