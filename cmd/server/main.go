// Command server runs the session multiplexer as a standalone process:
// it loads configuration, wires the registry and event bus, and exposes
// the command/event surface described in §6 over HTTP and WebSocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termforge/internal/api"
	"termforge/internal/config"
	"termforge/internal/eventbus"
	"termforge/internal/logging"
	"termforge/internal/mux"
	"termforge/internal/store"
)

func main() {
	logging.Init()
	log := logging.L()
	defer logging.Sync()

	cfg := config.Load()
	log.Sugar().Infof("starting termforge session multiplexer (env=%s)", cfg.Environment)

	bus := eventbus.New(log)
	registry := mux.NewRegistry(log, bus)
	handler := api.NewHandler(registry, bus, log)

	metadataStore, err := store.Open(cfg.MetadataDBPath)
	if err != nil {
		log.Sugar().Fatalf("failed to open metadata store: %v", err)
	}
	defer metadataStore.Close()
	sessionsHandler := api.NewSessionsHandler(metadataStore)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.Register(router)
	sessionsHandler.Register(router)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Sugar().Infof("listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Sugar().Fatalf("server failed to start: %v", err)
	case sig := <-quit:
		log.Sugar().Infof("received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Sugar().Warnf("http server shutdown error: %v", err)
	}

	if err := registry.DisconnectAll(); err != nil {
		log.Sugar().Warnf("disconnect_all error: %v", err)
	}

	log.Info("shutdown complete")
}
