// Package main runs the classroom screen-sharing SFU signaling server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quyphuc2111/smartlab-sfu/config"
	"github.com/quyphuc2111/smartlab-sfu/internal/engine"
	"github.com/quyphuc2111/smartlab-sfu/internal/metrics"
	"github.com/quyphuc2111/smartlab-sfu/internal/middleware"
	"github.com/quyphuc2111/smartlab-sfu/internal/realtime"
	"github.com/quyphuc2111/smartlab-sfu/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	logger.Info("screen sharing sfu starting",
		zap.String("local_ip", config.LocalIP()),
		zap.String("announced_ip", cfg.SFU.AnnouncedIP),
		zap.String("port", cfg.Server.Port),
		zap.Int("workers", cfg.SFU.NumWorkers),
		zap.Int("max_clients_per_room", cfg.SFU.MaxClientsPerRoom),
	)

	eng := engine.NewPion(engine.Settings{
		AnnouncedIP: cfg.SFU.AnnouncedIP,
		RTPMinPort:  cfg.SFU.RTPMinPort,
		RTPMaxPort:  cfg.SFU.RTPMaxPort,
	}, logger)

	manager, err := realtime.NewManager(context.Background(), cfg.SFU, eng, logger)
	if err != nil {
		logger.Fatal("start media workers", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/stats", func(c *gin.Context) { response.OK(c, manager.Stats()) })
	router.GET("/rooms/:id", func(c *gin.Context) {
		room, ok := manager.Room(c.Param("id"))
		if !ok {
			response.NotFound(c, "room not found")
			return
		}
		response.OK(c, room.Info())
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", realtime.ServeWs(manager, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("ws_url", "ws://"+cfg.SFU.AnnouncedIP+":"+cfg.Server.Port+"/ws"),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	manager.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
