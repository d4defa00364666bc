package session

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/ml"
	"cattle-backendv3/internal/model"
)

type fakeResolver struct {
	tags map[string]uuid.UUID
}

func (f *fakeResolver) ResolveActiveCow(ctx context.Context, rfid string) (uuid.UUID, bool, error) {
	id, ok := f.tags[rfid]
	return id, ok, nil
}

type fakeModels struct {
	byCow map[uuid.UUID]*model.MLModel
}

func (f *fakeModels) ActiveModelForCow(ctx context.Context, cowID uuid.UUID) (*model.MLModel, error) {
	return f.byCow[cowID], nil
}

type fakeSink struct {
	mu       sync.Mutex
	sessions []model.EatSession
	scores   []*model.AnomalyScore
}

func (f *fakeSink) InsertSession(ctx context.Context, sess *model.EatSession, score *model.AnomalyScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, *sess)
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeSink) inserted() []model.EatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

type hubEvent struct {
	key  string
	name string
	raw  []byte
}

type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (f *fakeHub) Publish(key string, payload []byte) {
	var envelope struct {
		Event string `json:"event"`
	}
	json.Unmarshal(payload, &envelope)
	f.mu.Lock()
	f.events = append(f.events, hubEvent{key: key, name: envelope.Event, raw: payload})
	f.mu.Unlock()
}

func (f *fakeHub) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.name
	}
	return out
}

type fixture struct {
	m        *Machine
	resolver *fakeResolver
	models   *fakeModels
	sink     *fakeSink
	hub      *fakeHub
	cow      uuid.UUID
	t0       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cow := uuid.New()
	fx := &fixture{
		resolver: &fakeResolver{tags: map[string]uuid.UUID{"tag-A": cow}},
		models:   &fakeModels{byCow: map[uuid.UUID]*model.MLModel{}},
		sink:     &fakeSink{},
		hub:      &fakeHub{},
		cow:      cow,
		t0:       time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC),
	}
	fx.m = NewMachine(Config{
		NoiseThreshold:       0.005,
		WeightStartThreshold: 0.05,
		SessionTimeout:       60 * time.Second,
	}, fx.resolver, fx.models, fx.sink, fx.hub)
	fx.m.now = func() time.Time { return fx.t0 }
	return fx
}

func (fx *fixture) feed(at time.Duration, rfid string, w float64) {
	s := &model.Sample{
		Timestamp: fx.t0.Add(at),
		DeviceID:  "D1",
		RFID:      rfid,
		Weight:    w,
		TempC:     38.0,
		HasTemp:   true,
	}
	fx.m.HandleSample(context.Background(), s)
}

// feedNoTemp is feed for wire messages whose temp field was absent.
func (fx *fixture) feedNoTemp(at time.Duration, rfid string, w float64) {
	s := &model.Sample{
		Timestamp: fx.t0.Add(at),
		DeviceID:  "D1",
		RFID:      rfid,
		Weight:    w,
	}
	fx.m.HandleSample(context.Background(), s)
}

func TestMachine_HappyPath(t *testing.T) {
	fx := newFixture(t)

	fx.feed(0, "tag-A", 7.00)
	fx.feed(5*time.Second, "tag-A", 6.96)
	fx.feed(10*time.Second, "tag-A", 6.90)
	fx.feed(60*time.Minute, "tag-A", 5.20)
	if fx.m.Live() != 1 {
		t.Fatalf("expected 1 live session, got %d", fx.m.Live())
	}

	// Tag leaves the antenna: finalize.
	fx.feed(60*time.Minute+5*time.Second, "", 5.20)

	sessions := fx.sink.inserted()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	sess := sessions[0]
	if sess.CowID != fx.cow || sess.DeviceID != "D1" || sess.RFID != "tag-A" {
		t.Errorf("session identity wrong: %+v", sess)
	}
	if !sess.TimeStart.Equal(fx.t0) {
		t.Errorf("start = %v, want %v", sess.TimeStart, fx.t0)
	}
	if !sess.TimeEnd.Equal(fx.t0.Add(60 * time.Minute)) {
		t.Errorf("end = %v, want last tagged sample instant", sess.TimeEnd)
	}
	if sess.WeightStart != 7.00 || sess.WeightEnd != 5.20 {
		t.Errorf("weights = (%v, %v)", sess.WeightStart, sess.WeightEnd)
	}
	if sess.AvgTemp != 38.0 {
		t.Errorf("avg temp = %v, want 38.0", sess.AvgTemp)
	}
	if fx.m.Live() != 0 {
		t.Errorf("live map not cleared")
	}

	// Continuation samples emit sensor_update; finalize emits session_end.
	names := fx.hub.names()
	want := []string{"sensor_update", "sensor_update", "sensor_update", "session_end"}
	if len(names) != len(want) {
		t.Fatalf("events = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}
}

func TestMachine_TagSwapFinalizesAndReopens(t *testing.T) {
	fx := newFixture(t)
	cowB := uuid.New()
	fx.resolver.tags["tag-B"] = cowB

	fx.feed(0, "tag-A", 7.00)
	fx.feed(30*time.Second, "tag-A", 6.50)
	fx.feed(60*time.Second, "tag-B", 4.00)

	sessions := fx.sink.inserted()
	if len(sessions) != 1 {
		t.Fatalf("expected the tag-A session finalized, got %d", len(sessions))
	}
	if sessions[0].CowID != fx.cow || sessions[0].WeightEnd != 6.50 {
		t.Errorf("wrong finalized session: %+v", sessions[0])
	}

	// tag-B's session is now live with its own start weight.
	if fx.m.Live() != 1 {
		t.Fatalf("expected the tag-B session live")
	}
	fx.feed(90*time.Second, "tag-B", 3.80)
	fx.feed(120*time.Second, "", 0)

	sessions = fx.sink.inserted()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	b := sessions[1]
	if b.CowID != cowB || b.WeightStart != 4.00 || b.WeightEnd != 3.80 {
		t.Errorf("tag-B session wrong: %+v", b)
	}
	if !b.TimeStart.Equal(fx.t0.Add(60 * time.Second)) {
		t.Errorf("tag-B session must start at the swap instant, got %v", b.TimeStart)
	}
}

func TestMachine_UnknownTagOpensNothing(t *testing.T) {
	fx := newFixture(t)
	fx.feed(0, "tag-unknown", 7.00)

	if fx.m.Live() != 0 {
		t.Error("unknown tag must not open a session")
	}
	if len(fx.hub.names()) != 0 {
		t.Error("unknown tag must not broadcast")
	}
}

func TestMachine_StartThresholdBoundary(t *testing.T) {
	fx := newFixture(t)

	// w == threshold must not open (strictly greater required).
	fx.feed(0, "tag-A", 0.05)
	if fx.m.Live() != 0 {
		t.Error("w == WEIGHT_START_THRESHOLD must not open a session")
	}

	fx.feed(time.Second, "tag-A", 0.051)
	if fx.m.Live() != 1 {
		t.Error("w just above the threshold must open a session")
	}
}

func TestMachine_TagSwapBelowThresholdClosesOnly(t *testing.T) {
	fx := newFixture(t)
	cowB := uuid.New()
	fx.resolver.tags["tag-B"] = cowB

	fx.feed(0, "tag-A", 7.00)
	fx.feed(30*time.Second, "tag-A", 6.50)
	// Swap arrives with too little feed in the trough.
	fx.feed(60*time.Second, "tag-B", 0.03)

	if len(fx.sink.inserted()) != 1 {
		t.Fatal("tag-A session must finalize on swap")
	}
	if fx.m.Live() != 0 {
		t.Error("swap below the start threshold must not open a session")
	}
}

func TestMachine_EqualWeightCandidateDiscarded(t *testing.T) {
	fx := newFixture(t)

	fx.feed(0, "tag-A", 7.00)
	fx.feed(30*time.Second, "tag-A", 7.00)
	fx.feed(60*time.Second, "", 0)

	if n := len(fx.sink.inserted()); n != 0 {
		t.Fatalf("no-consumption candidate must be discarded, got %d inserts", n)
	}
	// No session_end either.
	for _, name := range fx.hub.names() {
		if name == "session_end" {
			t.Error("discarded candidate must not broadcast session_end")
		}
	}
}

func TestMachine_NoiseDoesNotAdvanceConsumption(t *testing.T) {
	fx := newFixture(t)

	fx.feed(0, "tag-A", 7.000)
	fx.feed(10*time.Second, "tag-A", 6.900) // real drop
	fx.feed(20*time.Second, "tag-A", 6.897) // jitter, Δ=0.003 < noise

	// Reap at exactly lastConsumption + timeout: strict >, must not fire.
	fx.t0 = fx.t0.Add(10*time.Second + 60*time.Second)
	fx.m.reap(context.Background())
	if fx.m.Live() != 1 {
		t.Fatal("reaper fired at exactly the timeout boundary")
	}

	// One tick later it must fire.
	fx.t0 = fx.t0.Add(time.Second)
	fx.m.reap(context.Background())
	if fx.m.Live() != 0 {
		t.Fatal("reaper did not fire past the timeout")
	}

	sessions := fx.sink.inserted()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 reaped session, got %d", len(sessions))
	}
	// Finalized with last-weight and last-seen.
	if sessions[0].WeightEnd != 6.897 {
		t.Errorf("end weight = %v, want last-known 6.897", sessions[0].WeightEnd)
	}
	if !sessions[0].TimeEnd.Equal(time.Date(2025, 6, 2, 6, 0, 20, 0, time.UTC)) {
		t.Errorf("end = %v, want last-seen instant", sessions[0].TimeEnd)
	}

	// Timeout broadcast precedes session_end.
	names := fx.hub.names()
	sawTimeout := false
	for _, name := range names {
		if name == "session_timeout" {
			sawTimeout = true
		}
		if name == "session_end" && !sawTimeout {
			t.Fatal("session_end broadcast before session_timeout")
		}
	}
	if !sawTimeout {
		t.Fatal("session_timeout never broadcast")
	}
}

func TestMachine_AbsentTempExcludedFromMean(t *testing.T) {
	fx := newFixture(t)

	// Only the opening sample carries a temperature reading.
	fx.feed(0, "tag-A", 7.00)
	fx.feedNoTemp(10*time.Second, "tag-A", 6.90)
	fx.feedNoTemp(20*time.Second, "tag-A", 6.80)
	fx.feedNoTemp(30*time.Second, "tag-A", 6.70)
	fx.feedNoTemp(40*time.Second, "", 0)

	sessions := fx.sink.inserted()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if got := sessions[0].AvgTemp; got != 38.0 {
		t.Errorf("avg temp = %v, want 38.0 (absent readings must not count as 0)", got)
	}
}

func TestMachine_AllTempsAbsentMeansZeroMean(t *testing.T) {
	fx := newFixture(t)

	fx.feedNoTemp(0, "tag-A", 7.00)
	fx.feedNoTemp(10*time.Second, "tag-A", 6.90)
	fx.feedNoTemp(20*time.Second, "", 0)

	sessions := fx.sink.inserted()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if got := sessions[0].AvgTemp; got != 0 {
		t.Errorf("avg temp = %v, want 0 when no reading ever arrived", got)
	}
}

// sessionKey strips the generated id so finalized sessions can be
// compared across machines.
type sessionKey struct {
	cow        uuid.UUID
	start, end time.Time
	wS, wE     float64
}

func keysOf(sessions []model.EatSession) []sessionKey {
	out := make([]sessionKey, len(sessions))
	for i, s := range sessions {
		out[i] = sessionKey{s.CowID, s.TimeStart, s.TimeEnd, s.WeightStart, s.WeightEnd}
	}
	return out
}

// TestMachine_ReaperInterleavingEquivalence replays one stream with
// reaper ticks injected at different points and asserts the finalized
// sessions come out identical: a session closed by the reaper mid-gap
// must equal the one closed later by the tag swap crossing that gap.
func TestMachine_ReaperInterleavingEquivalence(t *testing.T) {
	type step struct {
		at   time.Duration
		rfid string
		w    float64
	}
	stream := []step{
		{0, "tag-A", 7.00},
		{10 * time.Second, "tag-A", 6.90},
		{30 * time.Second, "tag-A", 6.80},
		// 120 s silence, past the 60 s timeout.
		{150 * time.Second, "tag-B", 5.00},
		{160 * time.Second, "tag-B", 4.90},
	}
	end := 300 * time.Second

	run := func(reaps []time.Duration) []sessionKey {
		fx := newFixture(t)
		fx.resolver.tags["tag-A"] = uuid.NewSHA1(uuid.NameSpaceOID, []byte("cow-A"))
		fx.resolver.tags["tag-B"] = uuid.NewSHA1(uuid.NameSpaceOID, []byte("cow-B"))
		base := fx.t0
		next := 0
		for _, st := range stream {
			for next < len(reaps) && reaps[next] < st.at {
				fx.t0 = base.Add(reaps[next])
				fx.m.reap(context.Background())
				next++
			}
			fx.t0 = base.Add(st.at)
			fx.m.HandleSample(context.Background(), &model.Sample{
				Timestamp: base.Add(st.at),
				DeviceID:  "D1",
				RFID:      st.rfid,
				Weight:    st.w,
				TempC:     38.0,
				HasTemp:   true,
			})
		}
		for next < len(reaps) {
			fx.t0 = base.Add(reaps[next])
			fx.m.reap(context.Background())
			next++
		}
		fx.t0 = base.Add(end)
		fx.m.reap(context.Background())
		return keysOf(fx.sink.inserted())
	}

	// Lazy: the gap is crossed by the tag swap alone. Eager: a tick at
	// 100 s closes the idle tag-A session before tag-B ever shows up.
	lazy := run(nil)
	eager := run([]time.Duration{
		5 * time.Second, 20 * time.Second, 40 * time.Second,
		100 * time.Second, 155 * time.Second, 200 * time.Second,
	})

	if len(lazy) != 2 {
		t.Fatalf("expected 2 finalized sessions, got %d", len(lazy))
	}
	if len(lazy) != len(eager) {
		t.Fatalf("finalized sets differ: %d vs %d sessions", len(lazy), len(eager))
	}
	for i := range lazy {
		if lazy[i] != eager[i] {
			t.Errorf("session %d differs across interleavings:\n  lazy:  %+v\n  eager: %+v",
				i, lazy[i], eager[i])
		}
	}
}

func TestMachine_FinalizeScoresWithActiveModel(t *testing.T) {
	fx := newFixture(t)

	// Train a small forest so the finalize path exercises real scoring.
	rng := rand.New(rand.NewSource(5))
	X := make([][]float64, 64)
	for i := range X {
		row := make([]float64, ml.FeatureCount)
		for j := range row {
			row[j] = rng.Float64()
		}
		X[i] = row
	}
	forest := ml.NewForest(10, 32, 0.05)
	if err := forest.Fit(X, rng); err != nil {
		t.Fatal(err)
	}
	blob, err := forest.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	fx.models.byCow[fx.cow] = &model.MLModel{ModelID: 77, Data: blob, Active: true}

	fx.feed(0, "tag-A", 7.00)
	fx.feed(10*time.Minute, "tag-A", 6.00)
	fx.feed(11*time.Minute, "", 0)

	if len(fx.sink.scores) != 1 || fx.sink.scores[0] == nil {
		t.Fatal("expected an anomaly verdict alongside the session insert")
	}
	sc := fx.sink.scores[0]
	if sc.ModelID != 77 {
		t.Errorf("score model id = %d, want 77", sc.ModelID)
	}
	if sc.SessionID != fx.sink.sessions[0].SessionID {
		t.Error("score not bound to the inserted session")
	}

	// session_end carries the verdict.
	var ev model.SessionEndEvent
	last := fx.hub.events[len(fx.hub.events)-1]
	if err := json.Unmarshal(last.raw, &ev); err != nil {
		t.Fatal(err)
	}
	if !ev.Scored || ev.Score != sc.Score {
		t.Errorf("session_end verdict mismatch: %+v vs %+v", ev, sc)
	}
}

func TestMachine_FinalizeWithoutModelInsertsUnscored(t *testing.T) {
	fx := newFixture(t)

	fx.feed(0, "tag-A", 7.00)
	fx.feed(10*time.Minute, "tag-A", 6.00)
	fx.feed(11*time.Minute, "", 0)

	if len(fx.sink.inserted()) != 1 {
		t.Fatal("session must insert even with no model")
	}
	if fx.sink.scores[0] != nil {
		t.Error("expected nil verdict when no model is active")
	}
}

func TestMachine_EventsPublishedOnCowChannel(t *testing.T) {
	fx := newFixture(t)

	fx.feed(0, "tag-A", 7.00)
	fx.feed(time.Second, "tag-A", 6.90)

	if len(fx.hub.events) == 0 {
		t.Fatal("expected a sensor_update broadcast")
	}
	if got := fx.hub.events[0].key; got != fx.cow.String() {
		t.Errorf("event published on key %q, want cow id %q", got, fx.cow)
	}
}
