package logging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("nonsense")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewOperationErrorKeepsNil(t *testing.T) {
	assert.NoError(t, NewOperationError("op", "", nil))

	base := errors.New("boom")
	err := NewOperationError("repository.create", "req-1", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "repository.create (request_id=req-1): boom", err.Error())
	assert.Equal(t, "repository.create: boom", NewOperationError("repository.create", "", base).Error())
}

func TestErrorFieldsReportsInnermostOperation(t *testing.T) {
	inner := NewOperationError("repository.create", "req-7", errors.New("disk full"))
	outer := NewOperationError("usecase.predict", "", inner)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range ErrorFields(outer) {
		f.AddTo(enc)
	}
	assert.Equal(t, "repository.create", enc.Fields["failed_operation"])
	assert.Equal(t, "req-7", enc.Fields["request_id"])

	assert.Len(t, ErrorFields(errors.New("plain")), 1)
}

func TestGinMiddlewareAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, 2, logs.FilterMessage("request completed").Len())
}

func TestGinMiddlewareRecoversPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestIDOnBareContext(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "x", RequestID(ContextWithRequestID(context.Background(), "x")))
}
