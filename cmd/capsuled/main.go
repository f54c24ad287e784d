// Capsule daemon - records spoken ideas, transcribes them, and distills each
// session into a persisted, searchable insight capsule.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/config"
	"github.com/GriffinCanCode/insight-capsule/internal/generate"
	"github.com/GriffinCanCode/insight-capsule/internal/pipeline"
	"github.com/GriffinCanCode/insight-capsule/internal/record"
	"github.com/GriffinCanCode/insight-capsule/internal/server"
	"github.com/GriffinCanCode/insight-capsule/internal/storage"
	"github.com/GriffinCanCode/insight-capsule/internal/transcribe"
	"github.com/GriffinCanCode/insight-capsule/internal/vector"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	for _, dir := range []string{cfg.AudioDir, cfg.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Generation backends: probe local, fall back to remote.
	gen := generate.New(ctx, generate.Options{
		PreferLocal: cfg.PreferLocal,
		LocalURL:    cfg.LocalURL,
		LocalModel:  cfg.LocalModel,
		EmbedModel:  cfg.EmbedModel,
		RemoteURL:   cfg.RemoteURL,
		RemoteKey:   cfg.RemoteAPIKey,
		RoleModels:  cfg.RoleModels,
		Timeout:     cfg.GenerateTimeout,
	})
	if !gen.Available() {
		slog.Warn("no generation backend available, sessions will fail until one comes up")
	}

	// Transcription sidecar
	transcriber, err := transcribe.Dial(cfg.TranscriberAddr)
	if err != nil {
		slog.Error("failed to set up transcriber connection", "addr", cfg.TranscriberAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = transcriber.Close() }()
	if !transcriber.Healthy(ctx) {
		slog.Warn("transcriber not serving yet", "addr", cfg.TranscriberAddr)
	}

	// Capsule log storage
	store, err := storage.NewStore(cfg.LogsDir)
	if err != nil {
		slog.Error("failed to open capsule storage", "error", err)
		os.Exit(1)
	}

	// Audio capture
	source := record.NewDeviceSource(cfg.SampleRate, cfg.Channels, cfg.InputDevice)
	defer func() { _ = source.Close() }()
	recorder := record.New(source, record.Config{
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		SilenceDetection: cfg.SilenceDetection,
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.SilenceDuration,
	})

	// Semantic index, best effort: disabled when there is no embedder or
	// the database cannot be opened.
	var index *vector.Index
	if cfg.VectorEnabled {
		if emb := gen.Embedder(); emb != nil {
			index, err = vector.Open(filepath.Join(cfg.DataDir, "capsules.db"), emb)
			if err != nil {
				slog.Warn("vector search disabled", "error", err)
				index = nil
			} else {
				defer func() { _ = index.Close() }()
			}
		} else {
			slog.Warn("vector search disabled, no embedding backend")
		}
	}

	opts := pipeline.Options{
		Recorder:    recorder,
		Transcriber: transcriber,
		Generator:   gen,
		Storage:     store,
		AudioDir:    cfg.AudioDir,
		Temperature: cfg.Temperature,
		MaxRetries:  cfg.MaxRetries,
	}
	var searcher server.Searcher
	if index != nil {
		opts.Index = index
		searcher = index
	}
	orch := pipeline.New(opts)

	srv := server.New(orch, searcher)
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("capsule daemon starting", "http", cfg.HTTPAddr, "transcriber", cfg.TranscriberAddr, "logs", cfg.LogsDir)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	// Finish an active session before tearing the process down.
	if orch.IsRecording() {
		orch.StopRecording()
	}
	orch.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
