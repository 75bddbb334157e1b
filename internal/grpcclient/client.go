// Package grpcclient connects the classifier to a remote inference service.
//
// The service exposes a single unary method taking and returning a
// google.protobuf.Struct:
//
//	request:  {"shape": [1,128,128,3], "tensor": [...float...]}
//	response: {"scores": [...9 floats...]}
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/medical-ai/internal/classifier"
	"github.com/example/medical-ai/internal/logging"
)

// PredictMethod is the fully qualified RPC invoked for inference.
const PredictMethod = "/lungscan.v1.Classifier/Predict"

// Invoker is the subset of *grpc.ClientConn used by the backend.
type Invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// DialClassifier returns a ready-to-use remote classifier backend.
func DialClassifier(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (*Backend, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	b := NewBackend(conn, timeout, logger)
	b.closer = conn.Close
	return b, nil
}

// Backend implements classifier.Backend over gRPC.
type Backend struct {
	invoker Invoker
	timeout time.Duration
	logger  *zap.Logger
	closer  func() error
	limiter *rate.Limiter
}

var _ classifier.Backend = (*Backend)(nil)

// NewBackend wraps an existing connection.
func NewBackend(invoker Invoker, timeout time.Duration, logger *zap.Logger) *Backend {
	return &Backend{invoker: invoker, timeout: timeout, logger: logger.Named("grpc_classifier")}
}

// SetRateLimit caps outgoing calls at rps per second with the given burst.
// A non-positive rps removes the cap.
func (b *Backend) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		b.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Name identifies the backend in metrics and model info.
func (b *Backend) Name() string {
	return "grpc"
}

// Infer sends the tensor to the remote service and returns its scores.
func (b *Backend) Infer(ctx context.Context, input []float32) ([]float32, error) {
	requestID := logging.RequestID(ctx)
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, logging.NewOperationError("grpcclient.rate_limit", requestID, err)
		}
	}

	req, err := encodeRequest(input)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode", requestID, err)
	}

	resp := &structpb.Struct{}
	if err := b.invoker.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", requestID, err)
		b.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	scores, err := decodeResponse(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode", requestID, err)
	}
	return scores, nil
}

// Close closes the underlying connection when the backend owns it.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func encodeRequest(input []float32) (*structpb.Struct, error) {
	tensor := make([]*structpb.Value, len(input))
	for i, v := range input {
		tensor[i] = structpb.NewNumberValue(float64(v))
	}
	shape := []*structpb.Value{
		structpb.NewNumberValue(1),
		structpb.NewNumberValue(classifier.InputHeight),
		structpb.NewNumberValue(classifier.InputWidth),
		structpb.NewNumberValue(classifier.InputChannels),
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape":  structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"tensor": structpb.NewListValue(&structpb.ListValue{Values: tensor}),
	}}, nil
}

func decodeResponse(resp *structpb.Struct) ([]float32, error) {
	field, ok := resp.GetFields()["scores"]
	if !ok {
		return nil, errors.New("response has no scores")
	}
	list := field.GetListValue()
	if list == nil {
		return nil, errors.New("scores is not a list")
	}
	scores := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("score %d is not a number", i)
		}
		scores[i] = float32(num.NumberValue)
	}
	return scores, nil
}
