package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/medical-ai/internal/auth"
	"github.com/example/medical-ai/internal/classifier"
	"github.com/example/medical-ai/internal/config"
	"github.com/example/medical-ai/internal/grpcclient"
	"github.com/example/medical-ai/internal/handlers"
	"github.com/example/medical-ai/internal/logging"
	"github.com/example/medical-ai/internal/metrics"
	"github.com/example/medical-ai/internal/repository"
	"github.com/example/medical-ai/internal/storage"
	"github.com/example/medical-ai/internal/usecase"
	"github.com/example/medical-ai/internal/ws"
)

const (
	inferenceTimeout     = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

// app owns every long-lived dependency of the server.
type app struct {
	router *gin.Engine
	model  *classifier.Adapter
	hub    *ws.Hub
	db     *gorm.DB
	redis  *usecase.RedisCache
	logger *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := repository.AutoMigrate(ctx, db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		rc := usecase.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		a.redis = rc
		if err := rc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		cache = rc
	} else {
		cache = usecase.NewMemoryCache(cacheCleanupInterval)
	}

	images, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(logger)
	if err != nil {
		return nil, err
	}

	if cfg.ModelLabelsPath != "" {
		if err := classifier.CheckLabelFile(cfg.ModelLabelsPath); err != nil {
			return nil, err
		}
	}
	a.model = classifier.NewAdapter(loadBackend(ctx, cfg, logger), cfg.ModelVersion, logger, classifier.WithObserver(m))

	a.hub = ws.NewHub(logger)
	go a.hub.Run()
	if err := m.TrackGauge("ws_clients", "Connected live feed clients", func() float64 {
		return float64(a.hub.ClientCount())
	}); err != nil {
		return nil, err
	}

	predictionRepo := repository.NewPredictionRepository(db, logger)
	userRepo := repository.NewUserRepository(db, logger)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenLifetime, cfg.JWTAudience)

	predictions := usecase.NewPredictionUseCase(predictionRepo, userRepo, a.model, images, cache, cfg.MaxUploadBytes, logger, m, a.hub)
	stats := usecase.NewStatsUseCase(predictionRepo, userRepo, a.model, images, cache, cfg.StatsCacheTTL, logger)
	authUC := usecase.NewAuthUseCase(userRepo, issuer, logger)

	h, err := handlers.New(predictions, stats, authUC, logger, handlers.Options{
		Version:        version,
		MaxUploadBytes: cfg.MaxUploadBytes,
		StaticDir:      cfg.StaticDir,
		Authenticate:   auth.JWTMiddleware(issuer),
		Metrics:        m.Handler(),
		LiveFeed:       a.hub,
	})
	if err != nil {
		return nil, err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	router.Use(logging.GinMiddleware(logger), m.GinMiddleware())
	handlers.RegisterRoutes(router, h)
	a.router = router

	ok = true
	return a, nil
}

// loadBackend returns nil when the model cannot be loaded. The server still
// starts and reports the model as unavailable.
func loadBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) classifier.Backend {
	switch cfg.ModelBackend {
	case config.BackendGRPC:
		b, err := grpcclient.DialClassifier(ctx, cfg.ModelGRPCAddr, inferenceTimeout, logger)
		if err != nil {
			logger.Warn("remote classifier unavailable, predictions are disabled", zap.String("addr", cfg.ModelGRPCAddr), zap.Error(err))
			return nil
		}
		b.SetRateLimit(cfg.ModelMaxRPS, 1)
		return b
	default:
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			logger.Warn("model file not found, predictions are disabled", zap.String("path", cfg.ModelPath), zap.Error(err))
			return nil
		}
		b, err := classifier.NewONNXBackend(classifier.ONNXConfig{
			ModelPath:     cfg.ModelPath,
			SharedLibPath: cfg.ONNXRuntimeLib,
			InputName:     cfg.ModelInputName,
			OutputName:    cfg.ModelOutputName,
		})
		if err != nil {
			logger.Warn("failed to load model, predictions are disabled", zap.String("path", cfg.ModelPath), zap.Error(err))
			return nil
		}
		return b
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	var errs []error
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, repository.Close(a.db))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error while closing resources", zap.Error(err))
	}
}
