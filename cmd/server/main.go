package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"model-lifecycle-service/internal/adapters/primary/http/handlers"
	"model-lifecycle-service/internal/adapters/primary/http/middleware"
	"model-lifecycle-service/internal/app"
	"model-lifecycle-service/internal/config"
	"model-lifecycle-service/internal/core/services"
	"model-lifecycle-service/internal/serving"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serving gateway. A missing artifact leaves /health at 503 until a
	// reload succeeds.
	gateway := serving.NewGateway(cfg.Serving.ModelName, serving.NewMetrics())
	if err := gateway.Load(cfg.Serving.ModelPath); err != nil {
		log.WithError(err).Error("initial model load failed")
	}
	if cfg.Serving.ModelPath != "" && cfg.Serving.Watch {
		if err := gateway.Watch(ctx, cfg.Serving.ModelPath); err != nil {
			log.WithError(err).Warn("model watcher not started")
		}
	}

	// Lifecycle API (optional)
	var controller *services.LifecycleController
	if cfg.Lifecycle.APIEnabled {
		reg, err := app.OpenRegistry(ctx, cfg)
		if err != nil {
			log.Fatalf("open registry: %v", err)
		}
		defer func() {
			if err := reg.Close(); err != nil {
				log.WithError(err).Warn("close registry")
			}
		}()
		controller = app.NewLifecycleController(cfg, reg.Client)
	} else {
		log.Info("lifecycle API disabled")
	}

	h := handlers.New(gateway, controller, cfg.Lifecycle.AutoProduction)

	// Setup router
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), gin.Recovery())

	h.RegisterServingRoutes(router)
	if controller != nil {
		h.RegisterLifecycleRoutes(router.Group("/api/v1/lifecycle"))
	}

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server forced shutdown: %v", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
