package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/medical-ai/internal/classifier"
	"github.com/example/medical-ai/internal/logging"
	"github.com/example/medical-ai/internal/repository"
	"github.com/example/medical-ai/internal/storage"
)

const (
	// DefaultLimit is the page size used when none is requested.
	DefaultLimit = 50
	// MaxLimit is the largest page size served.
	MaxLimit = 100

	anonymousName = "Anonymous"
	predictionTTL = 10 * time.Minute
)

// PredictionRepository defines the persistence operations needed for
// predictions.
type PredictionRepository interface {
	Create(ctx context.Context, rec *repository.PredictionRecord) error
	FindByID(ctx context.Context, id string) (*repository.PredictionRecord, error)
	List(ctx context.Context, filter repository.ListFilter) ([]repository.PredictionRecord, error)
	Count(ctx context.Context, email string) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	ClassCounts(ctx context.Context, email string) ([]repository.ClassCount, error)
	Ping(ctx context.Context) error
}

// UserRepository defines the persistence operations needed for users.
type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
	FindByID(ctx context.Context, id string) (*repository.User, error)
	RecordPrediction(ctx context.Context, newUser *repository.User) error
}

// Classifier runs the model on raw image bytes.
type Classifier interface {
	Predict(ctx context.Context, data []byte) (classifier.Outcome, classifier.RunInfo, error)
	Info() classifier.ModelInfo
	Loaded() bool
}

// ImageStore keeps uploaded images.
type ImageStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (*storage.Object, error)
	Remove(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// Listener is notified after a prediction has been stored.
type Listener interface {
	PredictionCreated(p Prediction)
}

// Prediction is the client view of a stored prediction.
type Prediction struct {
	ID              string                  `json:"prediction_id"`
	PredictedClass  string                  `json:"predicted_class"`
	ConfidenceScore float64                 `json:"confidence_score"`
	AllPredictions  classifier.Distribution `json:"all_predictions"`
	ProcessingTime  float64                 `json:"processing_time"`
	CreatedAt       time.Time               `json:"created_at"`
}

// PredictInput is a single uploaded image and its optional submitter.
type PredictInput struct {
	Image     []byte
	UserName  string
	UserEmail string
}

// ListQuery selects a page of predictions.
type ListQuery struct {
	Email string
	Skip  int
	Limit int
}

type cachedPrediction struct {
	Prediction
	ImageFilename string `json:"image_filename"`
}

// PredictionUseCase encapsulates the prediction flow and prediction reads.
type PredictionUseCase struct {
	predictions    PredictionRepository
	users          UserRepository
	model          Classifier
	images         ImageStore
	cache          *cacheClient
	listeners      []Listener
	maxUploadBytes int64
	logger         *zap.Logger
	now            func() time.Time
}

// NewPredictionUseCase constructs a new use case instance. A nil cache
// disables caching.
func NewPredictionUseCase(predictions PredictionRepository, users UserRepository, model Classifier, images ImageStore, cache Cache, maxUploadBytes int64, logger *zap.Logger, listeners ...Listener) *PredictionUseCase {
	logger = logger.Named("prediction_usecase")
	return &PredictionUseCase{
		predictions:    predictions,
		users:          users,
		model:          model,
		images:         images,
		cache:          newCacheClient(cache, logger),
		listeners:      listeners,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
		now:            time.Now,
	}
}

// Predict validates and stores the image, classifies it and persists the
// result. The image file is kept unless the model rejects it as undecodable.
func (uc *PredictionUseCase) Predict(ctx context.Context, in PredictInput) (*Prediction, error) {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)

	name := strings.TrimSpace(in.UserName)
	email := repository.NormalizeEmail(in.UserEmail)

	if len(in.Image) == 0 {
		return nil, newError(KindValidation, "file is empty", nil)
	}
	if uc.maxUploadBytes > 0 && int64(len(in.Image)) > uc.maxUploadBytes {
		return nil, newError(KindValidation, fmt.Sprintf("file exceeds the %d byte limit", uc.maxUploadBytes), nil)
	}
	_, ext, ok := classifier.DetectImageType(in.Image)
	if !ok {
		return nil, newError(KindValidation, "file must be a JPEG, PNG, GIF or BMP image", nil)
	}

	id := uuid.NewString()
	filename := id + ext
	if err := uc.images.Save(ctx, filename, in.Image); err != nil {
		wrapped := logging.NewOperationError("usecase.save_image", requestID, err)
		opLogger.Error("failed to store uploaded image", zap.Error(wrapped))
		return nil, wrapped
	}

	outcome, run, err := uc.model.Predict(ctx, in.Image)
	if err != nil {
		switch {
		case errors.Is(err, classifier.ErrInvalidInput):
			if rmErr := uc.images.Remove(ctx, filename); rmErr != nil {
				opLogger.Warn("failed to remove rejected image", zap.String("filename", filename), zap.Error(rmErr))
			}
			return nil, newError(KindValidation, "file could not be decoded as an image", err)
		case errors.Is(err, classifier.ErrModelUnavailable):
			opLogger.Error("model unavailable", zap.Error(err))
			return nil, newError(KindModelUnavailable, "model is unavailable", err)
		default:
			wrapped := logging.NewOperationError("usecase.classify", requestID, err)
			opLogger.Error("classification failed", zap.Error(wrapped))
			return nil, wrapped
		}
	}

	rec := &repository.PredictionRecord{
		ID:              id,
		CreatedAt:       uc.now().UTC().Truncate(time.Microsecond),
		UserName:        name,
		UserEmail:       email,
		ImageFilename:   filename,
		ImageWidth:      run.Width,
		ImageHeight:     run.Height,
		PredictedClass:  outcome.Label(),
		ConfidenceScore: outcome.Confidence,
		AllPredictions:  datatypes.NewJSONType(outcome.Distribution),
		ProcessingTime:  run.Elapsed.Seconds(),
		ModelVersion:    uc.model.Info().ModelVersion,
	}
	if err := uc.predictions.Create(ctx, rec); err != nil {
		wrapped := logging.NewOperationError("usecase.save_prediction", requestID, err)
		opLogger.Error("failed to persist prediction", zap.Error(wrapped))
		return nil, wrapped
	}

	if email != "" {
		userName := name
		if userName == "" {
			userName = anonymousName
		}
		// The counter is best-effort; the stored record is authoritative.
		if err := uc.users.RecordPrediction(ctx, &repository.User{Name: userName, Email: email, IsActive: true}); err != nil {
			opLogger.Warn("failed to update user prediction counter", zap.String("email", email), zap.Error(err))
		}
	}

	prediction := toPrediction(rec)
	uc.cache.delete(ctx, statsCacheKey, userStatsCacheKey(email))
	uc.cache.setJSON(ctx, predictionCacheKey(id), cachedPrediction{Prediction: prediction, ImageFilename: filename}, predictionTTL)
	for _, l := range uc.listeners {
		l.PredictionCreated(prediction)
	}

	opLogger.Info("prediction stored",
		zap.String("prediction_id", id),
		zap.String("predicted_class", prediction.PredictedClass),
		zap.Float64("confidence", prediction.ConfidenceScore),
		zap.Duration("elapsed", run.Elapsed),
	)
	return &prediction, nil
}

// List returns a page of predictions, newest first. The limit is clamped
// to [1, MaxLimit].
func (uc *PredictionUseCase) List(ctx context.Context, q ListQuery) ([]Prediction, error) {
	if q.Skip < 0 {
		return nil, newError(KindValidation, "skip must be a non-negative integer", nil)
	}
	records, err := uc.predictions.List(ctx, repository.ListFilter{
		Email: q.Email,
		Skip:  q.Skip,
		Limit: ClampLimit(q.Limit),
	})
	if err != nil {
		wrapped := logging.NewOperationError("usecase.list_predictions", logging.RequestID(ctx), err)
		uc.logger.Error("failed to list predictions", zap.Error(wrapped))
		return nil, wrapped
	}

	out := make([]Prediction, 0, len(records))
	for i := range records {
		out = append(out, toPrediction(&records[i]))
	}
	return out, nil
}

// Image opens the uploaded image of a prediction. The caller must close it.
func (uc *PredictionUseCase) Image(ctx context.Context, id string) (*storage.Object, error) {
	filename, err := uc.imageFilename(ctx, id)
	if err != nil {
		return nil, err
	}

	obj, err := uc.images.Open(ctx, filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			return nil, newError(KindNotFound, "image file missing", err)
		}
		wrapped := logging.NewOperationError("usecase.open_image", logging.RequestID(ctx), err)
		uc.logger.Error("failed to open image", zap.Error(wrapped))
		return nil, wrapped
	}
	return obj, nil
}

func (uc *PredictionUseCase) imageFilename(ctx context.Context, id string) (string, error) {
	var cached cachedPrediction
	if uc.cache.getJSON(ctx, predictionCacheKey(id), &cached) && cached.ImageFilename != "" {
		return cached.ImageFilename, nil
	}

	rec, err := uc.predictions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", newError(KindNotFound, "prediction not found", err)
		}
		wrapped := logging.NewOperationError("usecase.find_prediction", logging.RequestID(ctx), err)
		uc.logger.Error("failed to load prediction", zap.Error(wrapped))
		return "", wrapped
	}
	if rec.ImageFilename == "" {
		return "", newError(KindNotFound, "image not found", nil)
	}
	uc.cache.setJSON(ctx, predictionCacheKey(id), cachedPrediction{Prediction: toPrediction(rec), ImageFilename: rec.ImageFilename}, predictionTTL)
	return rec.ImageFilename, nil
}

// ClampLimit maps a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func toPrediction(rec *repository.PredictionRecord) Prediction {
	return Prediction{
		ID:              rec.ID,
		PredictedClass:  rec.PredictedClass,
		ConfidenceScore: rec.ConfidenceScore,
		AllPredictions:  rec.Distribution(),
		ProcessingTime:  rec.ProcessingTime,
		CreatedAt:       rec.CreatedAt,
	}
}
