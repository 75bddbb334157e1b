package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/auth"
	"github.com/example/medical-ai/internal/logging"
	"github.com/example/medical-ai/internal/repository"
)

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
	Lifetime() time.Duration
}

// Token is the response of a successful registration or login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RegisterInput holds the fields required to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Profile is the public view of a user.
type Profile struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	IsActive         bool      `json:"is_active"`
	TotalPredictions int64     `json:"total_predictions"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuthUseCase handles registration, login and profile lookups.
type AuthUseCase struct {
	users  UserRepository
	tokens TokenIssuer
	logger *zap.Logger
}

// NewAuthUseCase constructs a new use case instance.
func NewAuthUseCase(users UserRepository, tokens TokenIssuer, logger *zap.Logger) *AuthUseCase {
	return &AuthUseCase{users: users, tokens: tokens, logger: logger.Named("auth_usecase")}
}

// Register creates an active user and returns an access token for it.
func (uc *AuthUseCase) Register(ctx context.Context, in RegisterInput) (*Token, error) {
	requestID := logging.RequestID(ctx)
	name := strings.TrimSpace(in.Name)
	email := repository.NormalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, newError(KindValidation, "name, email and password are required", nil)
	}
	if err := auth.CheckPasswordStrength(in.Password); err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.hash_password", requestID, err)
		uc.logger.Error("failed to hash password", zap.Error(wrapped))
		return nil, wrapped
	}

	user := &repository.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(KindConflict, "email already registered", err)
		}
		wrapped := logging.NewOperationError("usecase.create_user", requestID, err)
		uc.logger.Error("failed to create user", zap.Error(wrapped))
		return nil, wrapped
	}

	logging.WithOperation(uc.logger, "usecase.register", requestID).Info("user registered", zap.String("user_id", user.ID))
	return uc.issue(ctx, user)
}

// Login verifies credentials and returns an access token.
func (uc *AuthUseCase) Login(ctx context.Context, email, password string) (*Token, error) {
	requestID := logging.RequestID(ctx)
	user, err := uc.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindUnauthorized, "invalid email or password", nil)
		}
		wrapped := logging.NewOperationError("usecase.find_user", requestID, err)
		uc.logger.Error("failed to load user", zap.Error(wrapped))
		return nil, wrapped
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, newError(KindUnauthorized, "invalid email or password", nil)
	}
	if !user.IsActive {
		return nil, newError(KindForbidden, "user account is inactive", nil)
	}
	return uc.issue(ctx, user)
}

// Profile returns the user identified by a verified token subject.
func (uc *AuthUseCase) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := uc.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "user not found", err)
		}
		wrapped := logging.NewOperationError("usecase.find_user", logging.RequestID(ctx), err)
		uc.logger.Error("failed to load user", zap.Error(wrapped))
		return nil, wrapped
	}
	return &Profile{
		ID:               user.ID,
		Name:             user.Name,
		Email:            user.Email,
		IsActive:         user.IsActive,
		TotalPredictions: user.TotalPredictions,
		CreatedAt:        user.CreatedAt,
	}, nil
}

func (uc *AuthUseCase) issue(ctx context.Context, user *repository.User) (*Token, error) {
	token, _, err := uc.tokens.Issue(user.ID, user.Email)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.issue_token", logging.RequestID(ctx), err)
		uc.logger.Error("failed to issue token", zap.Error(wrapped))
		return nil, wrapped
	}
	return &Token{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(uc.tokens.Lifetime() / time.Second),
	}, nil
}
