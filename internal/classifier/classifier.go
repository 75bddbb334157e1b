// Package classifier wraps the pretrained lung X-ray model behind a small
// prediction API.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/logging"
)

var (
	// ErrInvalidInput is returned for bytes that are not a supported image.
	ErrInvalidInput = errors.New("invalid image input")
	// ErrModelUnavailable is returned when the model is not loaded or the
	// backend fails during inference.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Backend runs raw inference on a preprocessed NHWC tensor and returns one
// score per class.
type Backend interface {
	Infer(ctx context.Context, input []float32) ([]float32, error)
	Name() string
	Close() error
}

// Outcome is the classification of a single image.
type Outcome struct {
	Class        Class
	Confidence   float64
	Distribution Distribution
}

// Label returns the predicted class label.
func (o Outcome) Label() string {
	return o.Class.String()
}

// RunInfo describes a prediction call without being part of its outcome.
type RunInfo struct {
	Width   int
	Height  int
	Elapsed time.Duration
}

// ModelInfo is the static model metadata reported by stats and health.
type ModelInfo struct {
	ModelVersion string   `json:"model_version"`
	Classes      []string `json:"classes"`
	InputSize    [2]int   `json:"input_size"`
	TotalClasses int      `json:"total_classes"`
	Backend      string   `json:"backend"`
	Loaded       bool     `json:"loaded"`
}

// Observer receives the duration of every inference attempt.
type Observer interface {
	ObserveInference(backend string, elapsed time.Duration, err error)
}

// Adapter preprocesses images, calls the backend and shapes the result.
// It is safe for concurrent use when the backend is.
type Adapter struct {
	backend  Backend
	version  string
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithObserver registers an inference observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// NewAdapter builds an adapter. A nil backend yields an adapter that reports
// the model as not loaded and fails every prediction with ErrModelUnavailable.
func NewAdapter(backend Backend, version string, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		version: version,
		logger:  logger.Named("classifier"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Loaded reports whether a backend is available.
func (a *Adapter) Loaded() bool {
	return a.backend != nil
}

// Info returns static model metadata.
func (a *Adapter) Info() ModelInfo {
	backend := "none"
	if a.backend != nil {
		backend = a.backend.Name()
	}
	return ModelInfo{
		ModelVersion: a.version,
		Classes:      Labels(),
		InputSize:    [2]int{InputWidth, InputHeight},
		TotalClasses: NumClasses,
		Backend:      backend,
		Loaded:       a.Loaded(),
	}
}

// Predict classifies an encoded image.
func (a *Adapter) Predict(ctx context.Context, data []byte) (Outcome, RunInfo, error) {
	requestID := logging.RequestID(ctx)
	if a.backend == nil {
		return Outcome{}, RunInfo{}, logging.NewOperationError("classifier.predict", requestID, ErrModelUnavailable)
	}

	start := a.now()
	input, width, height, err := Preprocess(data)
	if err != nil {
		return Outcome{}, RunInfo{}, logging.NewOperationError("classifier.preprocess", requestID, err)
	}

	scores, err := a.backend.Infer(ctx, input)
	elapsed := a.now().Sub(start)
	if a.observer != nil {
		a.observer.ObserveInference(a.backend.Name(), elapsed, err)
	}
	if err != nil {
		logging.WithOperation(a.logger, "classifier.infer", requestID).Error("inference failed", zap.Error(err))
		return Outcome{}, RunInfo{}, logging.NewOperationError("classifier.infer", requestID, fmt.Errorf("%w: %v", ErrModelUnavailable, err))
	}

	dist, err := fromScores(scores)
	if err != nil {
		return Outcome{}, RunInfo{}, logging.NewOperationError("classifier.scores", requestID, fmt.Errorf("%w: %v", ErrModelUnavailable, err))
	}

	class, confidence := dist.ArgMax()
	return Outcome{Class: class, Confidence: confidence, Distribution: dist},
		RunInfo{Width: width, Height: height, Elapsed: elapsed},
		nil
}

// Close releases the backend.
func (a *Adapter) Close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}
