package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zfogg/orbit/internal/auth"
	"github.com/zfogg/orbit/internal/cache"
	"github.com/zfogg/orbit/internal/config"
	"github.com/zfogg/orbit/internal/container"
	"github.com/zfogg/orbit/internal/database"
	"github.com/zfogg/orbit/internal/handlers"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/metrics"
	"github.com/zfogg/orbit/internal/middleware"
	"github.com/zfogg/orbit/internal/realtime"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/repository"
	"github.com/zfogg/orbit/internal/storage"
	"github.com/zfogg/orbit/internal/telemetry"
	"github.com/zfogg/orbit/internal/websocket"
	"go.uber.org/zap"
)

const serviceName = "orbit"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLog, err := logger.Initialize(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	zapLog.Info("=== Orbit server starting ===", zap.String("environment", cfg.Environment))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	c := container.New().SetLogger(zapLog)

	tp, err := telemetry.InitTracer(startCtx, telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTelEndpoint,
		Enabled:      cfg.OTelEnabled,
		SamplingRate: cfg.OTelSamplingRate,
	})
	if err != nil {
		zapLog.Warn("Tracing disabled", zap.Error(err))
	} else if tp != nil {
		c.OnCleanup("tracer", tp.Shutdown)
	}

	db, err := database.Open(cfg.DatabaseURL, zapLog, !cfg.IsProduction())
	if err != nil {
		zapLog.Fatal("Failed to initialize database", zap.Error(err))
	}
	c.SetDB(db).OnCleanup("database", func(context.Context) error { return database.Close(db) })

	if err := database.Migrate(db); err != nil {
		zapLog.Fatal("Failed to run migrations", zap.Error(err))
	}

	redisClient, err := cache.NewRedisClient(startCtx, cfg.RedisAddr(), cfg.RedisPassword, zapLog)
	if err != nil {
		zapLog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	c.SetCache(redisClient).OnCleanup("redis", func(context.Context) error { return redisClient.Close() })

	m := metrics.Initialize()

	// Media storage is optional; without it only text messages can be sent
	var media storage.MediaStore
	if cfg.AWSBucket != "" {
		uploader, err := storage.NewS3Uploader(startCtx, cfg.AWSRegion, cfg.AWSBucket, cfg.CDNBaseURL)
		if err != nil {
			zapLog.Warn("Failed to initialize S3 uploader", zap.Error(err))
		} else {
			if err := uploader.CheckBucketAccess(startCtx); err != nil {
				zapLog.Warn("S3 bucket access check failed, uploads may fail", zap.Error(err))
			}
			media = uploader
			c.SetMediaStore(uploader)
		}
	}

	provider := realtime.NewRedisProvider(redisClient.Client(), zapLog)
	manager := realtime.NewManager(provider, cfg.RealtimeMaxConnections, zapLog,
		realtime.WithMetrics(m.Realtime()),
		realtime.WithPollInterval(cfg.RealtimePollInterval),
	)
	c.SetRealtime(manager).OnCleanup("realtime", manager.Close)

	repo := repository.NewMessagingRepository(db)
	users := repository.NewUserRepository(db)

	engine := receipts.NewEngine(repo, zapLog,
		receipts.WithCache(cache.NewUnreadCache(redisClient), cfg.UnreadCacheTTL),
	)
	service := messaging.NewService(repo, users, media, engine, provider, zapLog)
	c.SetReceipts(engine).SetMessaging(service)

	hub := websocket.NewHub(manager, service, engine, zapLog, websocket.WithMetrics(m.Live()))
	live := websocket.NewHandler(hub, cfg.AllowedOrigins)
	c.SetLive(live)

	if err := c.Validate(); err != nil {
		zapLog.Fatal("Invalid dependency graph", zap.Error(err))
	}

	h := handlers.NewHandlers(c.Messaging(), c.Receipts())
	h.SetLiveServer(c.Live())
	h.SetMetrics(m)
	h.SetRequestTimeout(cfg.RequestTimeout)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.GinLoggerMiddleware(),
		middleware.TracingMiddleware(serviceName),
		middleware.MetricsMiddleware(m),
	)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	// Upgraded connections cannot be wrapped by a gzip writer
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/live$`})))

	r.GET("/health", func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		checks := gin.H{"database": "ok", "redis": "ok"}
		if err := database.Health(checkCtx, c.DB()); err != nil {
			checks["database"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if err := c.Cache().Ping(checkCtx); err != nil {
			checks["redis"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
		ctx.JSON(code, gin.H{
			"status":         status,
			"checks":         checks,
			"realtime_slots": c.Realtime().ActiveCount(),
			"realtime_max":   c.Realtime().MaxConnections(),
			"timestamp":      time.Now().UTC(),
			"service":        serviceName,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	verifier := auth.NewVerifier(cfg.JWTSecret)
	mw := handlers.Middlewares{
		Auth:     auth.Middleware(verifier, false),
		LiveAuth: auth.Middleware(verifier, true),
	}
	if cfg.SendRateLimit > 0 {
		mw.SendRate = middleware.RateLimitMiddleware(c.Cache(), "send", cfg.SendRateLimit, cfg.SendRateWindow, m)
	}
	h.RegisterRoutes(r.Group("/api/v1"), mw)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("Orbit backend listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close websockets first; http.Server.Shutdown does not track hijacked connections
	if err := c.Live().Shutdown(ctx); err != nil {
		zapLog.Warn("WebSocket shutdown warning", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		zapLog.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := c.Cleanup(ctx); err != nil {
		zapLog.Warn("Cleanup finished with errors", zap.Error(err))
	}

	zapLog.Info("Server exited")
}
