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

	"github.com/charleschow/betting-service/internal/adapters/inbound/httpapi"
	"github.com/charleschow/betting-service/internal/adapters/outbound/discord"
	"github.com/charleschow/betting-service/internal/adapters/outbound/journal"
	"github.com/charleschow/betting-service/internal/config"
	"github.com/charleschow/betting-service/internal/core/admission"
	"github.com/charleschow/betting-service/internal/core/betting"
	"github.com/charleschow/betting-service/internal/core/leaderboard"
	"github.com/charleschow/betting-service/internal/core/session"
	"github.com/charleschow/betting-service/internal/events"
	"github.com/charleschow/betting-service/internal/fanout"
	"github.com/charleschow/betting-service/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting betting service")

	bus := events.NewBus()
	alerts := discord.NewNotifier(cfg.DiscordWebhookURL)

	// ── Admission ───────────────────────────────────────────────
	limits, err := config.LoadAdmissionLimits(cfg.AdmissionConfigPath)
	if err != nil {
		telemetry.Errorf("Failed to load admission limits: %v", err)
		os.Exit(1)
	}
	pool := admission.New(admission.Config{
		CoreWorkers:   limits.CoreWorkers,
		MaxWorkers:    limits.MaxWorkers,
		QueueCapacity: limits.QueueCapacity,
		IdleTimeout:   limits.IdleTimeout(),
		OnRejected:    alerts.OnRejected,
	})
	telemetry.Infof("Admission  core=%d  max=%d  queue=%d  idle=%s",
		limits.CoreWorkers, limits.MaxWorkers, limits.QueueCapacity, limits.IdleTimeout())

	// ── Core state ──────────────────────────────────────────────
	sessions := session.NewStore(cfg.SessionTTL)
	boards := leaderboard.NewRegistry()
	svc := betting.NewService(sessions, boards, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweepDone := sessions.RunSweeper(ctx, cfg.SessionSweepInterval)

	// ── Stake journal ───────────────────────────────────────────
	var stakeJournal *journal.Store
	if cfg.JournalPath != "" {
		stakeJournal, err = journal.OpenStore(cfg.JournalPath)
		if err != nil {
			telemetry.Warnf("Stake journal disabled: %v", err)
		} else {
			stakeJournal.Subscribe(bus)
		}
	}

	// ── Betting HTTP API ────────────────────────────────────────
	mux := http.NewServeMux()
	httpapi.NewHandler(svc, pool).RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Errorf("HTTP server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("Betting API listening on %q", addr)
	alerts.Lifecycle("Betting service started", addr, discord.ColorGreen)

	// ── Leaderboard fanout ──────────────────────────────────────
	var (
		fanoutSrv    *fanout.Server
		fanoutServer *http.Server
	)
	if cfg.FanoutPort > 0 {
		fanoutSrv = fanout.NewServer(bus, svc)
		fanoutServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.FanoutPort),
			Handler:           fanoutSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := fanoutServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				telemetry.Errorf("Fanout server: %v", err)
			}
		}()
		telemetry.Infof("Leaderboard fanout listening on %q", fanoutServer.Addr)
	}

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	telemetry.Infof("Shutting down (%s), draining for up to %s...", sig, cfg.ShutdownDrain)
	alerts.Lifecycle("Betting service stopping", sig.String(), discord.ColorYellow)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain)
	if err := pool.Shutdown(drainCtx); err != nil {
		telemetry.Warnf("Admission drain incomplete: %v  stats=%+v", err, pool.Stats())
	}
	drainCancel()

	cancel()
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	if fanoutServer != nil {
		fanoutSrv.CloseAll()
		fanoutServer.Shutdown(shutdownCtx)
	}

	if stakeJournal != nil {
		if err := stakeJournal.Close(); err != nil {
			telemetry.Warnf("Stake journal close: %v", err)
		}
	}

	stats := pool.Stats()
	telemetry.Infof("Shutdown complete  sessions=%d  stakes=%d  new_max=%d  rebuilds=%d  rejected=%d  panics=%d  p50=%s  p99=%s",
		telemetry.Metrics.SessionsCreated.Value(),
		telemetry.Metrics.StakesRecorded.Value(),
		telemetry.Metrics.NewMaxStakes.Value(),
		telemetry.Metrics.BoardRebuilds.Value(),
		stats.Rejected,
		stats.Panics,
		telemetry.Metrics.RequestLatency.P50(),
		telemetry.Metrics.RequestLatency.P99(),
	)
}
