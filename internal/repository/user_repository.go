package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/medical-ai/internal/logging"
)

// UserRepository provides persistence APIs for users.
type UserRepository struct {
	db *gorm.DB
	retrier
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, retrier: newRetrier(logger.Named("user_repository"))}
}

// Create inserts a user. An existing email yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	return r.executeWithRetry(ctx, "repository.create_user", logging.RequestID(ctx), func() error {
		var n int64
		if err := r.db.WithContext(ctx).Model(&User{}).Where("email = ?", user.Email).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		return translate(r.db.WithContext(ctx).Create(user).Error)
	})
}

// FindByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_email", logging.RequestID(ctx), func() error {
		return translate(r.db.WithContext(ctx).First(&user, "email = ?", NormalizeEmail(email)).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user", logging.RequestID(ctx), func() error {
		return translate(r.db.WithContext(ctx).First(&user, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RecordPrediction increments the prediction counter of the user with the
// given email, creating the user from newUser when absent.
func (r *UserRepository) RecordPrediction(ctx context.Context, newUser *User) error {
	email := NormalizeEmail(newUser.Email)
	increment := func() (bool, error) {
		res := r.db.WithContext(ctx).Model(&User{}).
			Where("email = ?", email).
			UpdateColumn("total_predictions", gorm.Expr("total_predictions + ?", 1))
		return res.RowsAffected > 0, translate(res.Error)
	}

	return r.executeWithRetry(ctx, "repository.record_user_prediction", logging.RequestID(ctx), func() error {
		updated, err := increment()
		if err != nil || updated {
			return err
		}

		newUser.Email = email
		newUser.TotalPredictions = 1
		err = translate(r.db.WithContext(ctx).Create(newUser).Error)
		if !errors.Is(err, ErrDuplicate) {
			return err
		}
		// Lost a race with a concurrent insert for the same email.
		_, err = increment()
		return err
	})
}
