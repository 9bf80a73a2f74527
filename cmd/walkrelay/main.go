package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"walkroom/native/internal/config"
	"walkroom/native/internal/relayserver"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		fmt.Fprintf(os.Stderr, "walkrelay: %v\n", err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(os.Stdout, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "walkrelay: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := relayserver.NewHub(logger)
	router := relayserver.NewRouter(hub, relayserver.Options{
		ICEServers:     cfg.ICEServers,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "ice_servers", len(cfg.ICEServers))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	rooms, clients := hub.Stats()
	slog.Info("server stopped", "rooms", rooms, "clients", clients)
}
