// Package session reconstructs discrete eating sessions from the raw
// feeder sample stream. One Machine instance owns the live per-device
// state; samples arrive from the broker subscriber and an inactivity
// reaper closes sessions whose cow has stopped eating.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/ml"
	"cattle-backendv3/internal/model"
)

// reapInterval is the cadence of the inactivity reaper.
const reapInterval = 10 * time.Second

// live is the in-memory state of one active session, keyed by device.
type live struct {
	tag         string
	cowID       uuid.UUID
	start       time.Time
	startWeight float64

	lastSeen        time.Time // any sample
	lastConsumption time.Time // last non-noise weight drop
	lastWeight      float64

	tempSum   float64
	tempCount int
}

// Machine is the per-device session state machine.
//
// The subscriber goroutine is the only caller of HandleSample; the
// reaper only removes entries. The map lock is never held across a
// store round-trip or a hub publish.
type Machine struct {
	resolver model.CowResolver
	models   model.ModelSource
	sink     model.SessionSink
	cowHub   model.Broadcaster

	noiseThreshold float64
	startThreshold float64
	timeout        time.Duration

	mu    sync.Mutex
	byDev map[string]*live

	// Alerts, when set, receives an AnomalyAlertEvent on the
	// global_alerts channel for every anomalous session.
	Alerts model.Broadcaster

	// OnFinalize is called after each persisted session (for metrics).
	OnFinalize func(sess *model.EatSession, scored bool)

	now func() time.Time
}

// Config carries the state-machine thresholds.
type Config struct {
	NoiseThreshold       float64
	WeightStartThreshold float64
	SessionTimeout       time.Duration
}

// NewMachine creates a Machine with no live sessions.
func NewMachine(cfg Config, resolver model.CowResolver, models model.ModelSource, sink model.SessionSink, cowHub model.Broadcaster) *Machine {
	return &Machine{
		resolver:       resolver,
		models:         models,
		sink:           sink,
		cowHub:         cowHub,
		noiseThreshold: cfg.NoiseThreshold,
		startThreshold: cfg.WeightStartThreshold,
		timeout:        cfg.SessionTimeout,
		byDev:          make(map[string]*live),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Live returns the number of devices with an active session.
func (m *Machine) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byDev)
}

// HandleSample applies one decoded sample to the state machine.
func (m *Machine) HandleSample(ctx context.Context, s *model.Sample) {
	m.mu.Lock()
	st := m.byDev[s.DeviceID]

	// Same tag, session continues.
	if st != nil && s.HasTag() && s.RFID == st.tag {
		st.lastSeen = s.Timestamp
		if st.lastWeight-s.Weight > m.noiseThreshold {
			st.lastConsumption = s.Timestamp
		}
		st.lastWeight = s.Weight
		if s.HasTemp {
			st.tempSum += s.TempC
			st.tempCount++
		}
		cowID := st.cowID
		m.mu.Unlock()

		m.cowHub.Publish(cowID.String(), model.MarshalEvent(model.SensorUpdateEvent{
			Event:     model.EventSensorUpdate,
			CowID:     cowID,
			DeviceID:  s.DeviceID,
			Weight:    s.Weight,
			TempC:     s.TempC,
			Timestamp: s.Timestamp,
		}))
		return
	}

	// Tag changed or disappeared: close the running session first.
	if st != nil {
		delete(m.byDev, s.DeviceID)
		m.mu.Unlock()
		m.finalize(ctx, s.DeviceID, st)
	} else {
		m.mu.Unlock()
	}

	// A present tag above the start threshold may open a new session.
	if !s.HasTag() || s.Weight <= m.startThreshold {
		return
	}
	m.tryOpen(ctx, s)
}

// tryOpen resolves the tag and, when an open ownership window exists,
// installs a fresh session for the device.
func (m *Machine) tryOpen(ctx context.Context, s *model.Sample) {
	cowID, ok, err := m.resolver.ResolveActiveCow(ctx, s.RFID)
	if err != nil {
		log.Printf("[session] device %s: resolve tag %s: %v", s.DeviceID, s.RFID, err)
		return
	}
	if !ok {
		// Unknown tag: the raw sample is still persisted by the buffer.
		return
	}

	st := &live{
		tag:             s.RFID,
		cowID:           cowID,
		start:           s.Timestamp,
		startWeight:     s.Weight,
		lastSeen:        s.Timestamp,
		lastConsumption: s.Timestamp,
		lastWeight:      s.Weight,
	}
	if s.HasTemp {
		st.tempSum = s.TempC
		st.tempCount = 1
	}

	m.mu.Lock()
	m.byDev[s.DeviceID] = st
	m.mu.Unlock()

	log.Printf("[session] device %s: session opened for cow %s (tag %s, w=%.3f)",
		s.DeviceID, cowID, s.RFID, s.Weight)
}

// Run drives the inactivity reaper until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap(ctx)
		}
	}
}

// reap finalizes every session idle past the timeout, measured against
// last-consumption with a strict comparison.
func (m *Machine) reap(ctx context.Context) {
	now := m.now()

	type expired struct {
		device string
		st     *live
	}
	var dead []expired

	m.mu.Lock()
	for device, st := range m.byDev {
		if now.Sub(st.lastConsumption) > m.timeout {
			dead = append(dead, expired{device, st})
			delete(m.byDev, device)
		}
	}
	m.mu.Unlock()

	for _, e := range dead {
		idle := now.Sub(e.st.lastConsumption)
		log.Printf("[session] device %s: session idle %s, closing", e.device, idle.Round(time.Second))
		m.cowHub.Publish(e.st.cowID.String(), model.MarshalEvent(model.SessionTimeoutEvent{
			Event:    model.EventSessionTimeout,
			CowID:    e.st.cowID,
			DeviceID: e.device,
			IdleFor:  idle.Seconds(),
		}))
		m.finalize(ctx, e.device, e.st)
	}
}

// finalize turns one removed live state into a persisted session: score
// it against the cow's active model when one exists, insert session and
// verdict together, then broadcast session_end. Candidates whose weight
// did not decrease are discarded.
func (m *Machine) finalize(ctx context.Context, device string, st *live) {
	if st.lastWeight >= st.startWeight {
		log.Printf("[session] device %s: discarding candidate (no consumption: %.3f -> %.3f)",
			device, st.startWeight, st.lastWeight)
		return
	}

	avgTemp := 0.0
	if st.tempCount > 0 {
		avgTemp = st.tempSum / float64(st.tempCount)
	}

	sess := &model.EatSession{
		SessionID:   uuid.New(),
		DeviceID:    device,
		RFID:        st.tag,
		CowID:       st.cowID,
		TimeStart:   st.start,
		TimeEnd:     st.lastSeen,
		WeightStart: st.startWeight,
		WeightEnd:   st.lastWeight,
		AvgTemp:     avgTemp,
	}

	score := m.score(ctx, sess)

	if err := m.sink.InsertSession(ctx, sess, score); err != nil {
		log.Printf("[session] device %s: persisting session %s failed: %v", device, sess.SessionID, err)
		return
	}

	ev := model.SessionEndEvent{
		Event:     model.EventSessionEnd,
		CowID:     sess.CowID,
		DeviceID:  sess.DeviceID,
		SessionID: sess.SessionID,
		TimeStart: sess.TimeStart,
		TimeEnd:   sess.TimeEnd,
		Consumed:  sess.Consumption(),
		AvgTemp:   sess.AvgTemp,
	}
	if score != nil {
		ev.Scored = true
		ev.IsAnomaly = score.IsAnomaly
		ev.Score = score.Score
	}
	m.cowHub.Publish(sess.CowID.String(), model.MarshalEvent(ev))

	if score != nil && score.IsAnomaly && m.Alerts != nil {
		m.Alerts.Publish(model.ChannelGlobalAlerts, model.MarshalEvent(model.AnomalyAlertEvent{
			Event:     model.EventAnomalyAlert,
			CowID:     sess.CowID,
			DeviceID:  sess.DeviceID,
			SessionID: sess.SessionID,
			Score:     score.Score,
			Consumed:  sess.Consumption(),
			TimeEnd:   sess.TimeEnd,
		}))
	}

	if m.OnFinalize != nil {
		m.OnFinalize(sess, score != nil)
	}
}

// score runs the cow's active model over the finalized session.
// Returns nil when no model exists or the artifact cannot be used; the
// hourly backfill cycle will score the session later.
func (m *Machine) score(ctx context.Context, sess *model.EatSession) *model.AnomalyScore {
	mdl, err := m.models.ActiveModelForCow(ctx, sess.CowID)
	if err != nil {
		log.Printf("[session] cow %s: model lookup failed: %v", sess.CowID, err)
		return nil
	}
	if mdl == nil {
		return nil
	}

	forest, err := ml.Unmarshal(mdl.Data)
	if err != nil {
		log.Printf("[session] cow %s: model %d undecodable: %v", sess.CowID, mdl.ModelID, err)
		return nil
	}

	feats := ml.ExtractFeatures(sess)
	s, anomaly := forest.Predict(feats[:])
	return &model.AnomalyScore{
		ModelID:   mdl.ModelID,
		SessionID: sess.SessionID,
		Score:     s,
		IsAnomaly: anomaly,
	}
}
