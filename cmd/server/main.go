package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-jim-d/springsandpucks-relay/internal/config"
	"github.com/m-jim-d/springsandpucks-relay/internal/relay"
	"github.com/m-jim-d/springsandpucks-relay/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	hub := transport.NewHub(transport.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxMessageSize:    cfg.MaxMessageSize,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		SendQueueSize:     cfg.SendQueueSize,
		WriteWait:         cfg.WriteWait(),
		PongWait:          cfg.PongWait(),
		RateLimitBurst:    cfg.RateLimitBurst,
		RateLimitInterval: cfg.RateLimitRefill(),
	}, logger.With("component", "hub"))

	session := relay.NewSession(hub, relay.Settings{
		IdleBudget:    cfg.IdleBudget(),
		IdleHardCap:   cfg.IdleHardCap(),
		HostExtension: cfg.HostExtension(),
		GreetingDelay: cfg.GreetingDelay(),
	}, nil, logger.With("component", "relay"))
	hub.Attach(session)
	session.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.Routes(hub),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout()); err != nil {
		logger.Warn("hub shutdown incomplete", "error", err)
	}
	session.Stop()
	logger.Info("shutdown complete")
}
