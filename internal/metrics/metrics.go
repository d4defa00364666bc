// Package metrics exposes Prometheus instrumentation and the health
// endpoint for the ingestion pipeline.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	SamplesTotal      prometheus.Counter
	MalformedTotal    prometheus.Counter
	FlushesTotal      *prometheus.CounterVec // labels: result=ok|error
	FlushBatchSize    prometheus.Histogram
	BufferPending     prometheus.Gauge
	LiveSessions      prometheus.Gauge
	SessionsFinalized *prometheus.CounterVec // labels: scored=yes|no
	HubDropsTotal     *prometheus.CounterVec // labels: keyspace=cow|system
	StreamClients     *prometheus.GaugeVec   // labels: transport=sse|ws
	ModelsTrained     prometheus.Counter
	SessionsScored    prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cattle_samples_total",
			Help: "Total telemetry samples received from the broker",
		}),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cattle_malformed_messages_total",
			Help: "Telemetry messages dropped as malformed",
		}),
		FlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cattle_buffer_flushes_total",
			Help: "Write-behind buffer flush attempts (by result)",
		}, []string{"result"}),
		FlushBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cattle_buffer_flush_batch_size",
			Help:    "Samples per flushed batch",
			Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BufferPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cattle_buffer_pending_samples",
			Help: "Samples currently held in the write-behind buffer",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cattle_live_sessions",
			Help: "Devices with an active eating session",
		}),
		SessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cattle_sessions_finalized_total",
			Help: "Finalized eating sessions (by whether a model scored them)",
		}, []string{"scored"}),
		HubDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cattle_hub_drops_total",
			Help: "Events dropped from full subscriber queues (by keyspace)",
		}, []string{"keyspace"}),
		StreamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cattle_stream_clients",
			Help: "Connected live-stream clients (by transport)",
		}, []string{"transport"}),
		ModelsTrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cattle_models_trained_total",
			Help: "Anomaly models trained and activated",
		}),
		SessionsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cattle_sessions_scored_total",
			Help: "Sessions scored by the backfill cycle",
		}),
	}

	prometheus.MustRegister(
		m.SamplesTotal,
		m.MalformedTotal,
		m.FlushesTotal,
		m.FlushBatchSize,
		m.BufferPending,
		m.LiveSessions,
		m.SessionsFinalized,
		m.HubDropsTotal,
		m.StreamClients,
		m.ModelsTrained,
		m.SessionsScored,
	)

	return m
}

// Pinger is the store-health probe surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerConnected   bool
	PostgresOK        bool
	LastSampleTime    time.Time
	RedisLatencyMs    float64
	PostgresLatencyMs float64
	LastCheckAt       time.Time
	StartedAt         time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now().UTC()}
}

func (h *HealthStatus) SetBrokerConnected(v bool) {
	h.mu.Lock()
	h.BrokerConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

// CheckRedis probes Redis and records latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	lat := float64(time.Since(start).Microseconds()) / 1000.0

	h.mu.Lock()
	h.BrokerConnected = err == nil
	h.RedisLatencyMs = lat
	h.LastCheckAt = time.Now().UTC()
	h.mu.Unlock()
}

// CheckPostgres probes the store and records latency.
func (h *HealthStatus) CheckPostgres(ctx context.Context, db Pinger) {
	start := time.Now()
	err := db.Ping(ctx)
	lat := float64(time.Since(start).Microseconds()) / 1000.0

	h.mu.Lock()
	h.PostgresOK = err == nil
	h.PostgresLatencyMs = lat
	h.LastCheckAt = time.Now().UTC()
	h.mu.Unlock()
}

// StartProbes runs periodic liveness probes until ctx is cancelled.
func (h *HealthStatus) StartProbes(ctx context.Context, interval time.Duration, rdb *goredis.Client, db Pinger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckPostgres(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.BrokerConnected || !h.PostgresOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.BrokerConnected && !h.PostgresOK {
		overallStatus = "unhealthy"
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		BrokerConnected   bool    `json:"broker_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		PostgresOK        bool    `json:"postgres_ok"`
		PostgresLatencyMs float64 `json:"postgres_latency_ms"`
		LastSampleTime    string  `json:"last_sample_time"`
		SampleAge         string  `json:"sample_age"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerConnected:   h.BrokerConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		PostgresOK:        h.PostgresOK,
		PostgresLatencyMs: h.PostgresLatencyMs,
		LastSampleTime:    h.LastSampleTime.Format(time.RFC3339),
		SampleAge:         sampleAge,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
