package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/store/postgres"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 720
	defaultRollupDays   = 7
)

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// handleSensorHistory returns the cow's raw samples over the trailing
// `hours` window (default 24, cap 720).
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	hours := queryInt(r, "hours", defaultHistoryHours)
	if hours > maxHistoryHours {
		hours = maxHistoryHours
	}

	points, err := s.store.SensorHistory(r.Context(), cow.CowID, s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if points == nil {
		points = []postgres.SensorPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cow_id":  cow.CowID,
		"hours":   hours,
		"samples": points,
	})
}

// handleSessionList returns the cow's sessions, optionally bounded by
// `from` and `to` (RFC 3339).
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		to = &t
	}

	sessions, err := s.store.SessionsForCow(r.Context(), cow.CowID, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.EatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleDailyRollup returns per-day aggregates for the last `days`
// days (default 7).
func (s *Server) handleDailyRollup(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	days := queryInt(r, "days", defaultRollupDays)
	since := s.now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	stats, err := s.store.DailyRollup(r.Context(), cow.CowID, since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if stats == nil {
		stats = []postgres.DailyStat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cow_id": cow.CowID,
		"days":   days,
		"daily":  stats,
	})
}

// weekDay is one day inside a weekly rollup: its aggregate plus the
// sessions that produced it.
type weekDay struct {
	Day      time.Time          `json:"day"`
	Stats    postgres.DailyStat `json:"stats"`
	Sessions []model.EatSession `json:"sessions"`
}

type weekRollup struct {
	WeekStart time.Time `json:"week_start"`
	Days      []weekDay `json:"days"`
}

// handleWeeklyRollup returns the current and previous ISO week, each
// broken down per day with its session list.
func (s *Server) handleWeeklyRollup(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	now := s.now()
	// Monday 00:00 UTC of the current week.
	weekday := (int(now.Weekday()) + 6) % 7
	thisWeek := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -weekday)
	prevWeek := thisWeek.AddDate(0, 0, -7)

	from := prevWeek
	sessions, err := s.store.SessionsForCow(r.Context(), cow.CowID, &from, nil)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	stats, err := s.store.DailyRollup(r.Context(), cow.CowID, prevWeek)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	statByDay := make(map[time.Time]postgres.DailyStat, len(stats))
	for _, st := range stats {
		statByDay[st.Day.UTC()] = st
	}
	sessByDay := make(map[time.Time][]model.EatSession)
	for _, sess := range sessions {
		day := sess.TimeStart.UTC().Truncate(24 * time.Hour)
		sessByDay[day] = append(sessByDay[day], sess)
	}

	buildWeek := func(start time.Time) weekRollup {
		wk := weekRollup{WeekStart: start}
		for i := 0; i < 7; i++ {
			day := start.AddDate(0, 0, i)
			if day.After(now) {
				break
			}
			d := weekDay{Day: day, Stats: statByDay[day], Sessions: sessByDay[day]}
			d.Stats.Day = day
			if d.Sessions == nil {
				d.Sessions = []model.EatSession{}
			}
			wk.Days = append(wk.Days, d)
		}
		return wk
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cow_id":        cow.CowID,
		"current_week":  buildWeek(thisWeek),
		"previous_week": buildWeek(prevWeek),
	})
}

// handleAnomalies lists anomalous sessions across the caller's herd
// (or one cow via `cow_id`) over the last `days` days, newest first.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var cowID *uuid.UUID
	if v := r.URL.Query().Get("cow_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cow_id")
			return
		}
		cowID = &id
	}

	days := queryInt(r, "days", defaultRollupDays)
	records, err := s.store.AnomaliesForFarmer(r.Context(), claims.FarmerID, cowID, s.now().AddDate(0, 0, -days))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []postgres.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
