package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebridge/notify/internal/api"
	"github.com/carebridge/notify/internal/auth"
	"github.com/carebridge/notify/internal/config"
	"github.com/carebridge/notify/internal/delivery"
	"github.com/carebridge/notify/internal/dispatch"
	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/mailer"
	"github.com/carebridge/notify/internal/metrics"
	"github.com/carebridge/notify/internal/oplog"
	"github.com/carebridge/notify/internal/registry"
	"github.com/carebridge/notify/internal/storage/pg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	gin.SetMode(cfg.GinMode)

	// Database
	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.DB.Close()

	notificationStore := pg.NewNotificationStore(db)
	deliveryStore := pg.NewDeliveryLogStore(db)
	familyDirectory := pg.NewFamilyDirectory(db)

	// Email channel (optional)
	var emailChannel mailer.Channel
	var natsChannel *mailer.NATSChannel
	if cfg.EmailEnabled {
		natsChannel, err = mailer.NewNATSChannel(cfg.NatsURL, cfg.EmailSubject, cfg.EmailFromAddress, log)
		if err != nil {
			log.Error("failed to connect email channel", slog.String("error", err.Error()))
			os.Exit(1)
		}
		emailChannel = natsChannel
		defer natsChannel.Close()
	} else {
		log.Warn("email channel disabled")
	}

	// Pipeline
	ops := oplog.New(cfg.OpLogCapacity, log)
	connRegistry := registry.New(log)
	tracker := delivery.NewTracker(deliveryStore, log)
	dispatcher := dispatch.New(notificationStore, connRegistry, tracker, emailChannel,
		familyDirectory, ops, log, cfg.BulkMaxConcurrent)

	metrics.RegisterConnectionGauge(connRegistry.Count)

	handler := api.NewHandler(dispatcher, notificationStore, tracker, connRegistry, ops, log,
		time.Duration(cfg.HeartbeatIntervalSeconds)*time.Second)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/", auth.Middleware(cfg.JWTSecret))
	{
		authed.GET("/ws", handler.Stream)

		v1 := authed.Group("/api/v1")
		v1.GET("/notifications", handler.ListNotifications)
		v1.GET("/notifications/unread-count", handler.UnreadCount)
		v1.POST("/notifications/:id/read", handler.MarkRead)
		v1.POST("/notifications/read-all", handler.MarkAllRead)

		v1.POST("/dispatch", handler.Dispatch)
		v1.POST("/dispatch/bulk", handler.DispatchBulk)
		v1.POST("/dispatch/family", handler.DispatchFamily)

		v1.GET("/ops/events", handler.OpsEvents)
		v1.GET("/ops/delivery-logs", handler.OpsDeliveryLogs)
	}

	// Maintenance jobs
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		cutoff := time.Now().AddDate(0, 0, -cfg.DeliveryLogRetentionDays)
		purged, err := notificationStore.PurgeDeliveryLogsBefore(context.Background(), cutoff)
		if err != nil {
			log.Error("delivery log purge failed", slog.String("error", err.Error()))
			return
		}
		ops.Info("maintenance", "delivery logs purged", map[string]interface{}{
			"purged": purged,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}); err != nil {
		log.Error("failed to schedule purge job", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() {
		ops.Info("maintenance", "connection stats", map[string]interface{}{
			"active_connections": connRegistry.Count(),
		})
	}); err != nil {
		log.Error("failed to schedule stats job", slog.String("error", err.Error()))
		os.Exit(1)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server listening", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	connRegistry.CloseAll()

	log.Info("shutdown complete")
}
