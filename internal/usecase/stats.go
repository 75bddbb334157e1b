package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/classifier"
	"github.com/example/medical-ai/internal/logging"
	"github.com/example/medical-ai/internal/repository"
)

// RecentWindow is the rolling window counted as recent predictions.
const RecentWindow = 24 * time.Hour

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusOK       = "ok"
	StatusError    = "error"
)

// Summary represents aggregated prediction insights.
type Summary struct {
	TotalPredictions  int64                `json:"total_predictions"`
	RecentPredictions int64                `json:"recent_predictions"`
	WindowHours       int                  `json:"window_hours"`
	ModelInfo         classifier.ModelInfo `json:"model_info"`
}

// UserSummary aggregates the predictions recorded for one email.
type UserSummary struct {
	Email                string  `json:"email"`
	TotalPredictions     int64   `json:"total_predictions"`
	MostCommonPrediction string  `json:"most_common_prediction"`
	AverageConfidence    float64 `json:"average_confidence"`
}

// ComponentHealth is the result of one health probe.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthReport describes the state of the process and its dependencies.
type HealthReport struct {
	Status    string               `json:"status"`
	Database  ComponentHealth      `json:"database"`
	Model     classifier.ModelInfo `json:"model"`
	Storage   ComponentHealth      `json:"storage"`
	Cache     ComponentHealth      `json:"cache"`
	Timestamp time.Time            `json:"timestamp"`
}

// StatsUseCase serves health and aggregate statistics.
type StatsUseCase struct {
	predictions PredictionRepository
	users       UserRepository
	model       Classifier
	images      ImageStore
	rawCache    Cache
	cache       *cacheClient
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewStatsUseCase constructs a new use case instance. Summaries are cached
// for ttl; a zero ttl disables caching.
func NewStatsUseCase(predictions PredictionRepository, users UserRepository, model Classifier, images ImageStore, cache Cache, ttl time.Duration, logger *zap.Logger) *StatsUseCase {
	logger = logger.Named("stats_usecase")
	uc := &StatsUseCase{
		predictions: predictions,
		users:       users,
		model:       model,
		images:      images,
		rawCache:    cache,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
	if ttl > 0 {
		uc.cache = newCacheClient(cache, logger)
	} else {
		uc.cache = newCacheClient(nil, logger)
	}
	return uc
}

// GetSummary returns total and recent prediction counts with model metadata.
func (uc *StatsUseCase) GetSummary(ctx context.Context) (*Summary, error) {
	var summary Summary
	if uc.cache.getJSON(ctx, statsCacheKey, &summary) {
		return &summary, nil
	}

	requestID := logging.RequestID(ctx)
	total, err := uc.predictions.Count(ctx, "")
	if err != nil {
		return nil, uc.internal("usecase.count_predictions", requestID, err)
	}
	recent, err := uc.predictions.CountSince(ctx, uc.now().Add(-RecentWindow))
	if err != nil {
		return nil, uc.internal("usecase.count_recent_predictions", requestID, err)
	}

	summary = Summary{
		TotalPredictions:  total,
		RecentPredictions: recent,
		WindowHours:       int(RecentWindow / time.Hour),
		ModelInfo:         uc.model.Info(),
	}
	uc.cache.setJSON(ctx, statsCacheKey, summary, uc.ttl)
	return &summary, nil
}

// GetUserSummary aggregates the predictions of one email. Totals are
// recomputed from the stored records rather than the user's counter.
func (uc *StatsUseCase) GetUserSummary(ctx context.Context, email string) (*UserSummary, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return nil, newError(KindValidation, "email is required", nil)
	}

	var summary UserSummary
	if uc.cache.getJSON(ctx, userStatsCacheKey(email), &summary) {
		return &summary, nil
	}

	requestID := logging.RequestID(ctx)
	if _, err := uc.users.FindByEmail(ctx, email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "user not found", err)
		}
		return nil, uc.internal("usecase.find_user", requestID, err)
	}

	counts, err := uc.predictions.ClassCounts(ctx, email)
	if err != nil {
		return nil, uc.internal("usecase.class_counts", requestID, err)
	}

	summary = summarize(email, counts)
	if summary.TotalPredictions == 0 {
		return nil, newError(KindNotFound, "no predictions recorded for user", nil)
	}
	uc.cache.setJSON(ctx, userStatsCacheKey(email), summary, uc.ttl)
	return &summary, nil
}

// summarize picks the most common class, breaking ties by class order.
func summarize(email string, counts []repository.ClassCount) UserSummary {
	byLabel := make(map[string]int64, len(counts))
	summary := UserSummary{Email: email}
	var confidenceTotal float64
	for _, c := range counts {
		byLabel[c.PredictedClass] += c.Count
		summary.TotalPredictions += c.Count
		confidenceTotal += c.ConfidenceTotal
	}
	if summary.TotalPredictions == 0 {
		return summary
	}
	summary.AverageConfidence = confidenceTotal / float64(summary.TotalPredictions)

	var best int64
	for _, class := range classifier.Classes() {
		if n := byLabel[class.String()]; n > best {
			best = n
			summary.MostCommonPrediction = class.String()
		}
	}
	return summary
}

// Health probes every dependency. It never fails; failures are reported
// in the returned report.
func (uc *StatsUseCase) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    StatusHealthy,
		Database:  uc.probe(ctx, "database", uc.predictions.Ping),
		Model:     uc.model.Info(),
		Storage:   uc.probe(ctx, "storage", uc.images.Ping),
		Timestamp: uc.now().UTC(),
	}
	if uc.rawCache != nil {
		report.Cache = uc.probe(ctx, "cache", uc.rawCache.Ping)
	} else {
		report.Cache = ComponentHealth{Status: "disabled"}
	}

	if report.Database.Status != StatusOK || report.Storage.Status != StatusOK ||
		report.Cache.Status == StatusError || !report.Model.Loaded {
		report.Status = StatusDegraded
		logging.WithOperation(uc.logger, "usecase.health", logging.RequestID(ctx)).Warn("health check degraded",
			zap.String("database", report.Database.Status),
			zap.String("storage", report.Storage.Status),
			zap.String("cache", report.Cache.Status),
			zap.Bool("model_loaded", report.Model.Loaded),
		)
	}
	return report
}

// probe runs one check with a short timeout. Error details go to the log,
// not the report.
func (uc *StatsUseCase) probe(ctx context.Context, component string, ping func(context.Context) error) (result ComponentHealth) {
	opLogger := logging.WithOperation(uc.logger, "usecase.health."+component, logging.RequestID(ctx))
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("health probe panicked", zap.Any("panic", r))
			result = ComponentHealth{Status: StatusError, Message: component + " check failed"}
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ping(ctx); err != nil {
		opLogger.Warn("health probe failed", zap.Error(err))
		return ComponentHealth{Status: StatusError, Message: component + " unreachable"}
	}
	return ComponentHealth{Status: StatusOK, Message: component + " reachable"}
}

func (uc *StatsUseCase) internal(operation, requestID string, err error) error {
	wrapped := logging.NewOperationError(operation, requestID, err)
	uc.logger.Error("stats query failed", zap.Error(wrapped))
	return wrapped
}
