package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/broker"
	"github.com/kalgynirae/sudoku-sync/internal/v1/config"
	"github.com/kalgynirae/sudoku-sync/internal/v1/health"
	"github.com/kalgynirae/sudoku-sync/internal/v1/logging"
	"github.com/kalgynirae/sudoku-sync/internal/v1/middleware"
	"github.com/kalgynirae/sudoku-sync/internal/v1/persistence"
	"github.com/kalgynirae/sudoku-sync/internal/v1/ratelimit"
	"github.com/kalgynirae/sudoku-sync/internal/v1/transport"
)

func main() {
	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	store, err := persistence.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open room store", zap.Error(err))
	}
	defer store.Close()

	b := broker.New(store, cfg.IdleGracePeriod, logger)

	flush := persistence.NewFlushLoop(store, cfg.FlushInterval, cfg.PersistFlushConcurrency, b.ActiveRooms, logger)
	go flush.Run(context.Background())

	limiter, err := ratelimit.New(cfg)
	if err != nil {
		logger.Fatal("failed to build rate limiter", zap.Error(err))
	}

	handler := transport.New(b, limiter, cfg.AllowedOrigins, logger)
	healthHandler := health.NewHandler(store)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	for i := range corsConfig.AllowOrigins {
		corsConfig.AllowOrigins[i] = strings.TrimSpace(corsConfig.AllowOrigins[i])
	}
	router.Use(cors.New(corsConfig))

	router.GET("/api/v1/realtime/", handler.ServeWsNewRoom)
	router.GET("/api/v1/realtime/:roomId", handler.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("realtime server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	flush.Stop()
	b.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}
