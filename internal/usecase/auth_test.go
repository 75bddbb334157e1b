package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/auth"
	"github.com/example/medical-ai/internal/repository"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	users := newStubUsers()
	uc := NewAuthUseCase(users, stubTokens{}, zap.NewNop())

	token, err := uc.Register(ctx, RegisterInput{Name: "Ana", Email: "Ana@Example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, "token-user-ana@example.com", token.AccessToken)
	assert.EqualValues(t, 3600, token.ExpiresIn)

	stored, err := users.FindByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	assert.True(t, auth.CheckPassword("secret123", stored.PasswordHash))

	_, err = uc.Register(ctx, RegisterInput{Name: "Other", Email: "ana@example.com", Password: "secret456"})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Len(t, users.byEmail, 1)
}

func TestRegisterValidation(t *testing.T) {
	uc := NewAuthUseCase(newStubUsers(), stubTokens{}, zap.NewNop())
	cases := []RegisterInput{
		{Email: "a@b.com", Password: "secret123"},
		{Name: "Ana", Password: "secret123"},
		{Name: "Ana", Email: "a@b.com"},
		{Name: "Ana", Email: "a@b.com", Password: "short1"},
		{Name: "Ana", Email: "a@b.com", Password: "onlyletters"},
	}
	for _, in := range cases {
		_, err := uc.Register(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err), "%+v", in)
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	users := newStubUsers()
	uc := NewAuthUseCase(users, stubTokens{}, zap.NewNop())
	_, err := uc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "secret123"})
	require.NoError(t, err)

	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, &repository.User{Name: "Off", Email: "off@b.com", PasswordHash: hash, IsActive: false}))

	token, err := uc.Login(ctx, "A@B.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "bearer", token.TokenType)

	_, err = uc.Login(ctx, "a@b.com", "wrong-pass1")
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = uc.Login(ctx, "nobody@b.com", "secret123")
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = uc.Login(ctx, "off@b.com", "secret123")
	assert.Equal(t, KindForbidden, KindOf(err))

	// Inactive accounts still fail with 401 on a wrong password.
	_, err = uc.Login(ctx, "off@b.com", "wrong-pass1")
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestLoginImplicitUserHasNoPassword(t *testing.T) {
	ctx := context.Background()
	users := newStubUsers()
	require.NoError(t, users.RecordPrediction(ctx, &repository.User{Name: "Anonymous", Email: "a@b.com", IsActive: true}))

	_, err := NewAuthUseCase(users, stubTokens{}, zap.NewNop()).Login(ctx, "a@b.com", "")
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestTokenFailureIsInternal(t *testing.T) {
	uc := NewAuthUseCase(newStubUsers(), stubTokens{err: errors.New("signing failed")}, zap.NewNop())
	_, err := uc.Register(context.Background(), RegisterInput{Name: "Ana", Email: "a@b.com", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestRegisterIssuesVerifiableToken(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour, "")
	uc := NewAuthUseCase(newStubUsers(), issuer, zap.NewNop())

	token, err := uc.Register(context.Background(), RegisterInput{Name: "Ana", Email: "a@b.com", Password: "secret123"})
	require.NoError(t, err)

	claims, err := issuer.Verify(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	users := newStubUsers()
	uc := NewAuthUseCase(users, stubTokens{}, zap.NewNop())
	_, err := uc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "secret123"})
	require.NoError(t, err)

	profile, err := uc.Profile(ctx, "user-a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Ana", profile.Name)
	assert.Equal(t, "a@b.com", profile.Email)

	_, err = uc.Profile(ctx, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestErrorKindsAndMessages(t *testing.T) {
	err := newError(KindNotFound, "prediction not found", repository.ErrNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, "prediction not found", Message(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Empty(t, Message(errors.New("boom")))
	assert.Equal(t, "not_found", KindNotFound.String())
}
