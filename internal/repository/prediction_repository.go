package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/medical-ai/internal/logging"
)

// PredictionRepository provides persistence APIs for prediction records.
type PredictionRepository struct {
	db *gorm.DB
	retrier
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{db: db, retrier: newRetrier(logger.Named("prediction_repository"))}
}

// Create persists a prediction record.
func (r *PredictionRepository) Create(ctx context.Context, rec *PredictionRecord) error {
	rec.UserEmail = NormalizeEmail(rec.UserEmail)
	return r.executeWithRetry(ctx, "repository.create_prediction", rec.ID, func() error {
		return translate(r.db.WithContext(ctx).Create(rec).Error)
	})
}

// FindByID retrieves a prediction record.
func (r *PredictionRepository) FindByID(ctx context.Context, id string) (*PredictionRecord, error) {
	var rec PredictionRecord
	err := r.executeWithRetry(ctx, "repository.find_prediction", logging.RequestID(ctx), func() error {
		return translate(r.db.WithContext(ctx).First(&rec, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns a page of records ordered by creation time, newest first.
func (r *PredictionRepository) List(ctx context.Context, filter ListFilter) ([]PredictionRecord, error) {
	var out []PredictionRecord
	err := r.executeWithRetry(ctx, "repository.list_predictions", logging.RequestID(ctx), func() error {
		q := r.db.WithContext(ctx).Model(&PredictionRecord{})
		if filter.Email != "" {
			q = q.Where("user_email = ?", NormalizeEmail(filter.Email))
		}
		out = out[:0]
		return translate(q.Order("created_at DESC").Order("id DESC").
			Offset(filter.Skip).Limit(filter.Limit).Find(&out).Error)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records, optionally restricted to one email.
func (r *PredictionRepository) Count(ctx context.Context, email string) (int64, error) {
	var n int64
	err := r.executeWithRetry(ctx, "repository.count_predictions", logging.RequestID(ctx), func() error {
		q := r.db.WithContext(ctx).Model(&PredictionRecord{})
		if email != "" {
			q = q.Where("user_email = ?", NormalizeEmail(email))
		}
		return translate(q.Count(&n).Error)
	})
	return n, err
}

// CountSince returns the number of records created at or after since.
func (r *PredictionRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.executeWithRetry(ctx, "repository.count_recent_predictions", logging.RequestID(ctx), func() error {
		return translate(r.db.WithContext(ctx).Model(&PredictionRecord{}).
			Where("created_at >= ?", since.UTC()).Count(&n).Error)
	})
	return n, err
}

// ClassCounts aggregates prediction counts and summed confidence per class
// for one email.
func (r *PredictionRepository) ClassCounts(ctx context.Context, email string) ([]ClassCount, error) {
	var out []ClassCount
	err := r.executeWithRetry(ctx, "repository.class_counts", logging.RequestID(ctx), func() error {
		out = out[:0]
		return translate(r.db.WithContext(ctx).Model(&PredictionRecord{}).
			Select("predicted_class, COUNT(*) AS count, SUM(confidence_score) AS confidence_total").
			Where("user_email = ?", NormalizeEmail(email)).
			Group("predicted_class").
			Scan(&out).Error)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks database connectivity.
func (r *PredictionRepository) Ping(ctx context.Context) error {
	return Ping(ctx, r.db)
}
