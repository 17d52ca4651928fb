/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/eventbus"
	"github.com/friendsincode/stagehand/internal/logbuffer"
	"github.com/friendsincode/stagehand/internal/logging"
	"github.com/friendsincode/stagehand/internal/server"
	"github.com/friendsincode/stagehand/internal/telemetry"
	"github.com/friendsincode/stagehand/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Stagehand - multi-room OBS operator console",
	Long:  "Stagehand steers the OBS instances of a multi-room event: scenes, feeds, music and schedule from one console.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console server",
	Long:  "Connect to every room's OBS and the backend services, then serve the console API.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(5000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	return nil
}

// loadRooms reads the rooms file when one is configured.
func loadRooms() ([]config.Room, error) {
	if cfg.RoomsFile == "" {
		return nil, nil
	}
	return config.LoadRooms(cfg.RoomsFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Stagehand starting")

	rooms, err := loadRooms()
	if err != nil {
		return err
	}

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:     "stagehand",
		ServiceVersion:  version.Version,
		Environment:     cfg.Environment,
		InstanceID:      eventbus.NodeID(),
		OTLPEndpoint:    cfg.OTLPEndpoint,
		Enabled:         cfg.TracingEnabled,
		SampleRate:      cfg.TracingSampleRate,
		Rooms:           len(rooms),
		MusicEnabled:    cfg.MusicEnabled(),
		ScheduleEnabled: cfg.ScheduleEnabled(),
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, rooms, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		_ = srv.Close()
		return err
	}

	httpServer := srv.HTTPServer()
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	if cfg.MetricsBind != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsBind, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn().Err(err).Msg("metrics server error")
			}
		}()
		defer metricsServer.Close()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Stagehand stopped")
	return nil
}
