package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtsp-bridge/internal/platform/config"
	"rtsp-bridge/internal/platform/logger"
	"rtsp-bridge/internal/platform/metrics"
	"rtsp-bridge/internal/signaling"
	"rtsp-bridge/internal/stream"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	outputDir := config.GetEnv("HLS_OUTPUT_DIR", "./streams")
	maxStreams := config.GetEnvInt("MAX_STREAMS", 10)
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	idleGrace := config.GetEnvDuration("IDLE_GRACE", 5*time.Second)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Error("cannot create output directory", "dir", outputDir, "error", err)
		os.Exit(1)
	}

	registry := stream.NewRegistry(maxStreams)
	sup := stream.NewFFmpegSupervisor(ffmpegPath, outputDir, log)
	watcher, err := stream.NewSegmentWatcher(outputDir, log)
	if err != nil {
		log.Warn("segment watcher unavailable, stats will omit segment counts", "error", err)
	}
	met := metrics.New()

	orch := stream.NewOrchestrator(registry, sup, watcher, outputDir, idleGrace, log, met)
	gw := signaling.NewGateway(orch, log)
	orch.SetNotifier(gw)
	h := stream.NewHandler(orch, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetActiveSessions(registry.Count())
			met.SetSignalingClients(gw.ClientCount())
		}).ServeHTTP(w, req)
	})
	r.Get("/health", h.Health)
	r.Route("/api/streams", func(r chi.Router) {
		r.Post("/", h.CreateStream)
		r.Get("/", h.ListStreams)
		r.Get("/{id}", h.GetStream)
		r.Delete("/{id}", h.StopStream)
		r.Get("/{id}/stats", h.GetStats)
	})
	r.Get("/ws", gw.HandleWS)
	r.Handle("/streams/*", http.StripPrefix("/streams/", stream.HLSFileServer(outputDir)))

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"output_dir", outputDir,
		"max_streams", maxStreams,
		"ffmpeg", ffmpegPath,
		"idle_grace", idleGrace.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping streams")

	// Transcoders must be reaped before the process exits.
	orch.StopAll()
	if watcher != nil {
		watcher.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
