package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the model artifact and its tensor names.
type ONNXConfig struct {
	ModelPath     string
	SharedLibPath string
	InputName     string
	OutputName    string
}

// ONNXBackend runs the exported model in-process with ONNX Runtime. The
// session reuses preallocated tensors, so calls are serialized.
type ONNXBackend struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	once    sync.Once
}

// NewONNXBackend initializes the runtime and loads the model.
func NewONNXBackend(cfg ONNXConfig) (*ONNXBackend, error) {
	if cfg.SharedLibPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx: %w", err)
		}
	}

	input, err := ort.NewTensor(ort.NewShape(1, InputHeight, InputWidth, InputChannels), make([]float32, InputWidth*InputHeight*InputChannels))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NumClasses))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXBackend{session: session, input: input, output: output}, nil
}

// Name identifies the backend in metrics and model info.
func (b *ONNXBackend) Name() string {
	return "onnx"
}

// Infer copies the tensor into the session input and runs the model.
func (b *ONNXBackend) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	dst := b.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, expected %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	scores := make([]float32, NumClasses)
	copy(scores, b.output.GetData())
	return scores, nil
}

// Close destroys the session, its tensors and the runtime environment.
func (b *ONNXBackend) Close() error {
	var err error
	b.once.Do(func() {
		if e := b.session.Destroy(); e != nil {
			err = e
		}
		b.input.Destroy()
		b.output.Destroy()
		if e := ort.DestroyEnvironment(); e != nil && err == nil {
			err = e
		}
	})
	return err
}
