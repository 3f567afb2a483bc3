// Hearing daemon - runs the audio path, speech recognition and the control server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/audio"
	"github.com/GriffinCanCode/hearing-assist/internal/config"
	"github.com/GriffinCanCode/hearing-assist/internal/health"
	"github.com/GriffinCanCode/hearing-assist/internal/metrics"
	"github.com/GriffinCanCode/hearing-assist/internal/recognition"
	"github.com/GriffinCanCode/hearing-assist/internal/server"
	"github.com/GriffinCanCode/hearing-assist/internal/system"
	"github.com/GriffinCanCode/hearing-assist/internal/transcript"
	"github.com/GriffinCanCode/hearing-assist/internal/translate"
)

func main() {
	configPath := flag.String("config", os.Getenv("HEARING_CONFIG"), "path to YAML config file")
	probe := flag.String("probe", "", "check a health service (e.g. hearing.audio) on the health address and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Setup structured logging
	slog.SetDefault(newLogger(cfg.Log))

	if *probe != "" {
		os.Exit(runProbe(cfg.HealthAddr, *probe))
	}

	if err := run(cfg); err != nil {
		slog.Error("hearingd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		slog.Warn("using default settings", "path", cfg.SettingsPath, "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Audio hardware
	tap := audio.NewTap()
	hw := audio.NewPortAudio(tap, cfg.Audio.ExcludedDevices)
	if err := hw.Init(); err != nil {
		return err
	}
	defer func() { _ = hw.Close() }()

	var translator translate.Engine
	if cfg.Translation.APIKey != "" {
		translator = translate.NewClient(translate.Config{
			Endpoint: cfg.Translation.Endpoint,
			APIKey:   cfg.Translation.APIKey,
			Model:    cfg.Translation.Model,
			Timeout:  cfg.Translation.Timeout(),
		})
	}

	store, err := transcript.Open(ctx, cfg.Transcripts.Driver, cfg.Transcripts.Path, cfg.Transcripts.MaxEntries)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m := metrics.New()
	sys, err := system.New(cfg, settings, system.Deps{
		Tap:         tap,
		Hardware:    hw,
		Recognizer:  recognition.NewWebSocketEngine(cfg.Recognition.URL, cfg.Recognition.ConnectTimeout()),
		Translator:  translator,
		Transcripts: store,
		Metrics:     m,
	}, system.Callbacks{})
	if err != nil {
		return err
	}

	// Health service
	hs := health.NewServer()
	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen health: %w", err)
	}
	go func() {
		if err := hs.Serve(lis); err != nil {
			slog.Error("health server error", "error", err)
		}
	}()
	go hs.Watch(ctx, health.DefaultCheckInterval, sys.Health)
	defer hs.Stop()

	// HTTP/WebSocket server
	srv := server.New(sys, m)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("hearingd starting", "http", cfg.HTTPAddr, "health", cfg.HealthAddr, "recognition", cfg.Recognition.URL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sys.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		// Run only returns early when initialization failed.
		cancel()
		shutdownHTTP(httpServer)
		return err
	}

	slog.Info("shutting down...")
	shutdownHTTP(httpServer)
	if err := <-runErr; err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

func shutdownHTTP(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
}

func runProbe(addr, service string) int {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), health.CheckTimeout)
	defer cancel()
	ok, err := health.Probe(ctx, addr, service)
	if err != nil {
		slog.Error("health probe failed", "addr", addr, "service", service, "error", err)
		return 2
	}
	if !ok {
		slog.Warn("service not serving", "service", service)
		return 1
	}
	slog.Info("service serving", "service", service)
	return 0
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
