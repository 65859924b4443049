package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/httpapi"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	eventStore, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("event store init failed: %v", err)
	}
	defer eventStore.Close()

	library := playback.NewFileLibrary(cfg.AudioDir)
	sources, err := library.List()
	if err != nil {
		log.Fatalf("audio dir %q is not readable: %v (create it and add .wav files to serve as agent responses)", cfg.AudioDir, err)
	}
	if len(sources) == 0 {
		log.Printf("warning: audio dir %q holds no .wav files; the agent will stay silent until some are added", cfg.AudioDir)
	} else {
		log.Printf("loaded %d audio source(s) from %s", len(sources), cfg.AudioDir)
	}

	sessions := session.NewManager()
	driver := voice.NewDriver(
		sessions,
		eventStore,
		metrics,
		cfg.FrameBytes(),
		cfg.SilenceThreshold,
		cfg.ReceivePollInterval,
	)

	api := httpapi.New(cfg, sessions, driver, library, eventStore, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s (input %dHz, output %dHz, frame %d samples)",
			cfg.BindAddr, cfg.InputSampleRate, cfg.OutputSampleRate, cfg.FrameSamples)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
