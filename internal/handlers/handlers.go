package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/logging"
	"github.com/example/medical-ai/internal/storage"
	"github.com/example/medical-ai/internal/usecase"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Medical AI - Lung Disease Classification API"

// multipartOverhead is the allowance for form boundaries and text fields on
// top of the image size limit.
const multipartOverhead = 1 << 20

// validate checks values that are normalized before validation.
var validate = validator.New()

// PredictionService is the prediction use case as seen by the handlers.
type PredictionService interface {
	Predict(ctx context.Context, in usecase.PredictInput) (*usecase.Prediction, error)
	List(ctx context.Context, q usecase.ListQuery) ([]usecase.Prediction, error)
	Image(ctx context.Context, id string) (*storage.Object, error)
}

// StatsService is the stats use case as seen by the handlers.
type StatsService interface {
	GetSummary(ctx context.Context) (*usecase.Summary, error)
	GetUserSummary(ctx context.Context, email string) (*usecase.UserSummary, error)
	Health(ctx context.Context) usecase.HealthReport
}

// AuthService is the auth use case as seen by the handlers.
type AuthService interface {
	Register(ctx context.Context, in usecase.RegisterInput) (*usecase.Token, error)
	Login(ctx context.Context, email, password string) (*usecase.Token, error)
	Profile(ctx context.Context, userID string) (*usecase.Profile, error)
}

// Options configures the optional parts of the HTTP surface.
type Options struct {
	Version        string
	MaxUploadBytes int64
	StaticDir      string
	// Authenticate guards protected routes.
	Authenticate gin.HandlerFunc
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// LiveFeed serves GET /ws/predictions when set.
	LiveFeed http.Handler
}

// Handler serves the REST API.
type Handler struct {
	predictions PredictionService
	stats       StatsService
	auth        AuthService
	opts        Options
	openAPI     map[string]interface{}
	logger      *zap.Logger
}

// New builds a Handler. It fails if the embedded API document is invalid.
func New(predictions PredictionService, stats StatsService, auth AuthService, logger *zap.Logger, opts Options) (*Handler, error) {
	doc, err := loadOpenAPI()
	if err != nil {
		return nil, err
	}
	if opts.Authenticate == nil {
		return nil, errors.New("handlers: Authenticate middleware is required")
	}
	return &Handler{
		predictions: predictions,
		stats:       stats,
		auth:        auth,
		opts:        opts,
		openAPI:     doc,
		logger:      logger.Named("handlers"),
	}, nil
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
	// listed routes are advertised by GET /.
	listed bool
}

func (h *Handler) routes() []route {
	rs := []route{
		{http.MethodGet, "/", []gin.HandlerFunc{h.root}, false},
		{http.MethodPost, "/predict", []gin.HandlerFunc{h.predict}, true},
		{http.MethodGet, "/predictions", []gin.HandlerFunc{h.listPredictions}, true},
		{http.MethodGet, "/predictions/:id/image", []gin.HandlerFunc{h.predictionImage}, true},
		{http.MethodGet, "/user/:email/predictions", []gin.HandlerFunc{h.listUserPredictions}, true},
		{http.MethodGet, "/health", []gin.HandlerFunc{h.health}, true},
		{http.MethodGet, "/stats", []gin.HandlerFunc{h.summary}, true},
		{http.MethodGet, "/user/:email/stats", []gin.HandlerFunc{h.userSummary}, true},
		{http.MethodPost, "/auth/register", []gin.HandlerFunc{h.register}, true},
		{http.MethodPost, "/auth/login", []gin.HandlerFunc{h.login}, true},
		{http.MethodGet, "/auth/me", []gin.HandlerFunc{h.opts.Authenticate, h.me}, true},
		{http.MethodGet, "/docs", []gin.HandlerFunc{h.docs}, true},
		{http.MethodGet, "/openapi.json", []gin.HandlerFunc{h.openAPIDocument}, false},
	}
	if h.opts.Metrics != nil {
		rs = append(rs, route{http.MethodGet, "/metrics", []gin.HandlerFunc{gin.WrapH(h.opts.Metrics)}, false})
	}
	if h.opts.LiveFeed != nil {
		rs = append(rs, route{http.MethodGet, "/ws/predictions", []gin.HandlerFunc{gin.WrapH(h.opts.LiveFeed)}, true})
	}
	return rs
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	for _, r := range h.routes() {
		router.Handle(r.method, r.path, r.handlers...)
	}
	if h.opts.StaticDir != "" {
		if info, err := os.Stat(h.opts.StaticDir); err == nil && info.IsDir() {
			router.Static("/static", h.opts.StaticDir)
		} else {
			h.logger.Info("static directory not found, not serving /static", zap.String("dir", h.opts.StaticDir))
		}
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

func (h *Handler) root(c *gin.Context) {
	endpoints := make([]string, 0)
	for _, r := range h.routes() {
		if r.listed {
			endpoints = append(endpoints, strings.ReplaceAll(strings.ReplaceAll(r.path, ":id", "{id}"), ":email", "{email}"))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      ServiceName,
		"version":   h.opts.Version,
		"endpoints": endpoints,
	})
}

// fail writes err as a JSON error response. Internal errors are logged and
// reported without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := usecase.Message(err)
	switch usecase.KindOf(err) {
	case usecase.KindValidation, usecase.KindConflict:
		status = http.StatusBadRequest
	case usecase.KindNotFound:
		status = http.StatusNotFound
	case usecase.KindUnauthorized:
		status = http.StatusUnauthorized
		c.Header("WWW-Authenticate", "Bearer")
	case usecase.KindForbidden:
		status = http.StatusForbidden
	case usecase.KindModelUnavailable:
		status = http.StatusInternalServerError
		h.logger.Warn("prediction rejected", logging.ErrorFields(err)...)
	default:
		logging.WithOperation(h.logger, c.FullPath(), logging.RequestID(c.Request.Context())).
			Error("request failed", logging.ErrorFields(err)...)
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}

// bindingMessage turns binding and validation failures into a short
// client-facing message.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fieldName(fe)
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", field)
		case "email":
			return fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			return fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "max":
			return fmt.Sprintf("%s must be at most %s", field, fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", field)
		}
	}
	return "invalid request"
}

var fieldNames = map[string]string{
	"File":      "file",
	"UserName":  "user_name",
	"UserEmail": "user_email",
	"Skip":      "skip",
	"Limit":     "limit",
	"Email":     "email",
	"Name":      "name",
	"Password":  "password",
}

func fieldName(fe validator.FieldError) string {
	if name, ok := fieldNames[fe.Field()]; ok {
		return name
	}
	return strings.ToLower(fe.Field())
}
