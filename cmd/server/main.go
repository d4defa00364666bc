// Command server runs the cattle telemetry backend: the broker
// subscriber and session state machine, the write-behind sample
// buffer, the training driver, and the HTTP API with its live-stream
// surfaces. Everything lives in one process; the pub/sub hubs are
// in-memory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cattle-backendv3/config"
	"cattle-backendv3/internal/api"
	"cattle-backendv3/internal/auth"
	"cattle-backendv3/internal/ingest"
	"cattle-backendv3/internal/logger"
	"cattle-backendv3/internal/metrics"
	"cattle-backendv3/internal/ml"
	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/notification"
	"cattle-backendv3/internal/session"
	"cattle-backendv3/internal/store/postgres"
	"cattle-backendv3/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("cattle-backend", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := config.Load()
	log.Printf("[server] topic prefix %s, buffer %d/%s, session timeout %s",
		cfg.TopicPrefix, cfg.BufferSize, cfg.FlushInterval, cfg.SessionTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := postgres.New(bootCtx, cfg.PostgresURI)
	bootCancel()
	if err != nil {
		log.Fatalf("[server] postgres init failed: %v", err)
	}
	defer store.Close()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.TokenLifetime)
	if err != nil {
		log.Fatalf("[server] auth init failed: %v", err)
	}

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	cowHub := stream.NewHub(0)
	cowHub.OnDrop = func(string) { m.HubDropsTotal.WithLabelValues("cow").Inc() }
	sysHub := stream.NewHub(0)
	sysHub.OnDrop = func(string) { m.HubDropsTotal.WithLabelValues("system").Inc() }

	machine := session.NewMachine(session.Config{
		NoiseThreshold:       cfg.NoiseThreshold,
		WeightStartThreshold: cfg.WeightStartThreshold,
		SessionTimeout:       cfg.SessionTimeout,
	}, store, store, store, cowHub)
	machine.Alerts = sysHub
	machine.OnFinalize = func(_ *model.EatSession, scored bool) {
		label := "no"
		if scored {
			label = "yes"
		}
		m.SessionsFinalized.WithLabelValues(label).Inc()
		m.LiveSessions.Set(float64(machine.Live()))
	}

	buffer := ingest.NewBuffer(store, cfg.BufferSize, cfg.FlushInterval)
	buffer.OnFlush = func(n int, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.FlushesTotal.WithLabelValues(result).Inc()
		m.FlushBatchSize.Observe(float64(n))
		m.BufferPending.Set(float64(buffer.Pending()))
	}

	subscriber := ingest.NewSubscriber(rdb, cfg.TopicPrefix, machine, buffer)
	subscriber.OnMessage = func(ok bool) {
		if !ok {
			m.MalformedTotal.Inc()
			return
		}
		m.SamplesTotal.Inc()
		m.BufferPending.Set(float64(buffer.Pending()))
		m.LiveSessions.Set(float64(machine.Live()))
		health.SetLastSampleTime(time.Now().UTC())
	}

	notifiers := map[string]notification.Notifier{}
	if cfg.AlertWebhookURL != "" {
		notifiers["webhook"] = notification.NewWebhookNotifier(cfg.AlertWebhookURL)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers["telegram"] = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	}
	dispatcher := notification.NewDispatcher(sysHub, notifiers)

	trainer := ml.NewTrainer(store, sysHub, cfg.TrainingHour, cfg.ScoringInterval)
	trainer.OnTrained = func() { m.ModelsTrained.Inc() }
	trainer.OnScored = func(n int) { m.SessionsScored.Add(float64(n)) }

	apiSrv := api.NewServer(cfg.APIAddr, store, tokens, trainer, cowHub, sysHub)
	apiSrv.OnStreamClient = func(transport string, delta int) {
		m.StreamClients.WithLabelValues(transport).Add(float64(delta))
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	health.StartProbes(ctx, 10*time.Second, rdb, store)

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context){
		"subscriber":      subscriber.Run,
		"buffer":          buffer.Run,
		"session-reaper":  machine.Run,
		"trainer-daily":   trainer.RunDaily,
		"trainer-scoring": trainer.RunScoring,
		"alert-dispatch":  dispatcher.Run,
	} {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			run(ctx)
			log.Printf("[server] %s stopped", name)
		}(name, run)
	}

	apiSrv.Start()
	metricsSrv.Start()
	log.Printf("[server] up: api on %s, metrics on %s", cfg.APIAddr, cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[server] received %s, shutting down", sig)

	// Stop the intake and workers first; buffer.Run drains its pending
	// batch on the way out. Then close the HTTP surfaces.
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Printf("[server] shutdown complete")
}
