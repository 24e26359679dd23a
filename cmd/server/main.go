package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfreeman451/healthradar/pkg/alerts"
	"github.com/mfreeman451/healthradar/pkg/api"
	"github.com/mfreeman451/healthradar/pkg/classifier"
	"github.com/mfreeman451/healthradar/pkg/config"
	"github.com/mfreeman451/healthradar/pkg/db"
	"github.com/mfreeman451/healthradar/pkg/models"
	"github.com/mfreeman451/healthradar/pkg/pipeline"
	"github.com/mfreeman451/healthradar/pkg/registry"
	"github.com/mfreeman451/healthradar/pkg/sink"
	"github.com/mfreeman451/healthradar/pkg/sweeper"
	"github.com/mfreeman451/healthradar/pkg/transport"
	"github.com/mfreeman451/healthradar/pkg/validator"
	"github.com/mfreeman451/healthradar/pkg/ws"
)

func main() {
	log.Printf("Starting healthradar server...")

	configPath := flag.String("config", "/etc/healthradar/server.json", "Path to config file")
	flag.Parse()

	var cfg config.ServerConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The classifier is required for operation; refusing to start beats
	// silently ingesting without ML coverage.
	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		log.Fatalf("Failed to load anomaly model: %v", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(time.Duration(cfg.Flood.Window), cfg.Flood.Threshold)
	val := validator.New(cfg.Ranges)

	hub := ws.NewHub()
	go hub.Run()

	alerters := make([]alerts.AlertService, 0, len(cfg.Webhooks))
	for _, webhook := range cfg.Webhooks {
		alerters = append(alerters, alerts.NewWebhookAlerter(webhook))
	}

	anomalySink := sink.New(store, sink.Config{
		Alerters: alerters,
		Broadcast: func(rec *models.AnomalyRecord) {
			hub.BroadcastAnomalies([]*models.AnomalyRecord{rec})
		},
	})

	pipe := pipeline.New(reg, val, model, anomalySink, store, cfg.Workers)

	sub, err := transport.NewRedisSubscriber(ctx, cfg.Transport.Addr,
		cfg.Transport.Password, cfg.Transport.DB, cfg.Transport.Topic)
	if err != nil {
		log.Fatalf("Failed to subscribe to telemetry channel: %v", err)
	}

	pipelineDone := make(chan struct{})

	go func() {
		defer close(pipelineDone)

		log.Printf("Ingesting telemetry from %q with %d workers",
			cfg.Transport.Topic, cfg.Workers)
		pipe.Run(ctx, sub)
	}()

	swp := sweeper.New(reg, anomalySink, store,
		time.Duration(cfg.SweepInterval),
		time.Duration(cfg.SilenceTimeout),
		time.Duration(cfg.Retention))

	go func() {
		if err := swp.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Sweeper stopped: %v", err)
		}
	}()

	apiServer := api.NewAPIServer(reg, store, anomalySink, pipe, hub, cfg.IngestRateLimit)

	go func() {
		log.Printf("Starting HTTP server on %s", cfg.ListenAddr)

		if err := apiServer.Start(cfg.ListenAddr); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating shutdown", sig)

	// Close the subscriber first so workers drain in-flight messages,
	// then tear down the rest.
	if err := sub.Close(); err != nil {
		log.Printf("Error closing subscriber: %v", err)
	}

	<-pipelineDone

	if err := swp.Stop(context.Background()); err != nil {
		log.Printf("Error stopping sweeper: %v", err)
	}

	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	hub.Stop()
	log.Printf("Shutdown complete")
}
