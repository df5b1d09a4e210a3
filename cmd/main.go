/*
Package main is the entry point for the roomcast server.

It is responsible for loading configuration, initializing the global logging system,
connecting the Postgres store and the optional blob store and push gateway, wiring the
real-time engine, serving HTTP, and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM): the HTTP server stops, every WebSocket is closed, and
in-flight notification dispatches are drained.
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

	"github.com/gorilla/websocket"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/db"
	"roomcast/internal/app/notify"
	"roomcast/internal/app/push"
	"roomcast/internal/app/session"
	"roomcast/internal/app/storage"
	"roomcast/internal/configs"
	"roomcast/internal/handler"
	"roomcast/internal/pkg/logx"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Bool("push_enabled", cfg.PushEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	store := db.NewStore(pool)

	var blobs storage.StorageService
	if cfg.StorageEnabled() {
		blobs, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize storage service")
		}
	}

	presence := chat.NewPresence()
	registry := chat.NewRegistry(presence)
	typing := chat.NewTyping(registry)

	var notifier chat.Notifier
	var dispatcher *notify.Dispatcher
	if cfg.PushEnabled() {
		dispatcher = notify.NewDispatcher(notify.Config{
			Store:       store,
			Presence:    presence,
			Gateway:     push.NewHTTPGateway(cfg.PushGatewayURL, cfg.PushAccessToken, cfg.PushTimeout),
			Images:      blobs,
			Concurrency: cfg.PushConcurrency,
			Timeout:     cfg.NotifyTimeout,
		})
		notifier = dispatcher
	}

	engine := chat.NewEngine(chat.EngineConfig{
		Store:        store,
		Blobs:        blobs,
		Notifier:     notifier,
		Registry:     registry,
		Presence:     presence,
		Typing:       typing,
		StoreTimeout: cfg.StoreTimeout,
	})

	gate := session.NewGate(session.NewTokenResolver(cfg.JWTSecret, store), store, cfg.AuthTimeout)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config:         cfg,
		Engine:         engine,
		Auth:           gate,
		Members:        store,
		Database:       store,
		StorageService: blobs,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info("roomcast server starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "HTTP server forced to shutdown")
	}

	// hijacked WebSocket connections are not tracked by the HTTP server
	registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	if dispatcher != nil {
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logx.Error(err, "Notification dispatches did not finish in time")
		}
	}

	logx.Info("Server gracefully stopped.")
}
