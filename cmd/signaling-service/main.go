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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	intDatabase "medipredict-backend/internal/database"
	callHandler "medipredict-backend/internal/handler/http/call"
	wsHandler "medipredict-backend/internal/handler/ws"
	"medipredict-backend/internal/middleware"
	"medipredict-backend/internal/repository/cockroach"
	redisRepo "medipredict-backend/internal/repository/redis"
	"medipredict-backend/internal/signaling"
	"medipredict-backend/pkg/config"
	"medipredict-backend/pkg/constants"
	pkgDatabase "medipredict-backend/pkg/database"
	"medipredict-backend/pkg/jwt"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/metrics"
	"medipredict-backend/pkg/resilience"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 1. Call log store. The relay keeps working without it; records are dropped.
	var sink signaling.CallRecordSink
	var history callHandler.HistoryReader
	db, err := pkgDatabase.ConnectWithRetry(ctx, cfg.Database)
	if err != nil {
		logger.Warn("Running in limited mode without call log persistence", zap.Error(err))
	} else {
		defer db.Close()
		callRepo := cockroach.NewCallRepository(db.Pool)
		if err := callRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare call_records schema", zap.Error(err))
		}
		sink = signaling.NewGuardedSink(callRepo,
			resilience.NewCircuitBreaker("call_records", constants.SinkFailureThreshold, constants.SinkCooldown, appMetrics))
		history = callRepo
		logger.Info("Connected to CockroachDB")
	}

	// 2. Redis presence mirror with degraded mode support
	redisDB := intDatabase.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, presence mirror starts degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, cfg.Redis.HealthCheckInterval)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB, cfg.Redis.PresenceTTL)
	if err := presenceRepo.Reset(ctx); err != nil {
		logger.Warn("Failed to clear stale presence", zap.Error(err))
	}

	// 3. Signaling core
	recorder := signaling.NewAsyncRecorder(sink, cfg.Signaling.RecordQueueSize, cfg.Signaling.RecordWriteTimeout, appMetrics)
	registry := signaling.NewConnectionRegistry()
	sessions := signaling.NewSessionTable()

	mirror := signaling.NewPresenceMirror(presenceRepo, cfg.Signaling.SendBuffer, constants.PresenceMirrorTimeout, cfg.Redis.PresenceTTL/2)
	registry.Subscribe(mirror)

	hub := wsHandler.NewSignalingHub(cfg.Signaling, appMetrics)
	router := signaling.NewRouter(registry, sessions, hub, recorder, appMetrics)
	hub.Bind(router)

	if cfg.Signaling.RingTimeout > 0 {
		go router.RunRingTimeout(ctx, cfg.Signaling.RingTimeout, constants.RingSweepInterval)
		logger.Info("Ring timeout enabled", zap.Duration("timeout", cfg.Signaling.RingTimeout))
	}

	// 4. HTTP surface
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to configure trusted proxies", zap.Error(err))
	}

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	engine.Use(middleware.CORSMiddleware(cfg.Signaling.AllowedOrigins))
	engine.Use(prometheusMiddleware.Handler())

	engine.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName,
		func() (string, bool) { return "redis", !redisDB.IsDegraded() },
		func() (string, bool) { return "cockroachdb", db != nil },
	))
	engine.GET("/metrics", middleware.MetricsHandler(appMetrics))

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, constants.AccessTokenDuration)
	auth := middleware.AuthMiddleware(jwtManager, middleware.NewRedisRevocationChecker(redisDB), cfg.JWT.RequireAuth)

	v1 := engine.Group("/v1")
	v1.GET("/signaling/ws", auth, hub.ServeWS)

	api := v1.Group("")
	api.Use(auth)
	if cfg.Server.RateLimitPerMin > 0 {
		api.Use(middleware.NewRateLimiter(redisDB, cfg.Server.RateLimitPerMin, constants.RateLimitWindow).Middleware())
	}
	callHandler.NewHandler(history, registry).RegisterRoutes(api)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("websocket", "/v1/signaling/ws"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down signaling service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	hub.Shutdown()
	recorder.Close()
	mirror.Close()

	logger.Info("Signaling service stopped")
}
