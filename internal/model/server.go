package model

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/dementia-api/internal/preprocess"
)

// Options configures the ONNX Runtime environment.
type Options struct {
	// SharedLibraryPath points at libonnxruntime. Empty uses the library's
	// default lookup.
	SharedLibraryPath string

	// IntraOpThreads caps the threads used inside one Run. Zero leaves the
	// runtime default.
	IntraOpThreads int
}

// Server owns an ONNX Runtime session with pre-allocated input and output
// tensors. Classify is safe for concurrent use; runs are serialized because
// the bound tensors are shared.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	Metadata     Metadata
	labels       LabelTable
	logger       *zap.Logger
}

func NewServer(modelPath string, meta Metadata, opts Options, logger *zap.Logger) (*Server, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	labels, err := NewLabelTable(meta.Classes)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := &Server{
		Metadata: meta,
		labels:   labels,
		logger:   logger.Named("model"),
	}
	if err := s.bind(modelPath, opts); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("model loaded",
		zap.String("path", modelPath),
		zap.Int64s("input_shape", meta.InputShape),
		zap.Strings("classes", meta.Classes))
	return s, nil
}

func (s *Server) bind(modelPath string, opts Options) error {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.inputTensor = inputTensor

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.outputTensor = outputTensor

	var sessionOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessionOpts, err = ort.NewSessionOptions()
		if err != nil {
			return fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessionOpts.Destroy()
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{s.Metadata.InputName}, []string{s.Metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOpts)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.session = session
	return nil
}

func (s *Server) InputShape() []int64 {
	return slices.Clone(s.Metadata.InputShape)
}

func (s *Server) Labels() LabelTable {
	return s.labels
}

// Classify runs one forward pass and returns the arg-max class.
func (s *Server) Classify(t *preprocess.Tensor) (*Prediction, error) {
	if t == nil || !slices.Equal(t.Shape, s.Metadata.InputShape) {
		var got []int64
		if t != nil {
			got = t.Shape
		}
		return nil, &ShapeMismatchError{Want: s.InputShape(), Got: got}
	}
	if len(t.Data) != preprocess.ShapeSize(t.Shape) {
		return nil, &ShapeMismatchError{Want: s.InputShape(), Got: []int64{int64(len(t.Data))}}
	}

	probs, err := s.run(t.Data)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	if s.Metadata.ApplySoftmax {
		Softmax(probs)
	}

	pred, err := s.labels.Select(probs)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return pred, nil
}

func (s *Server) run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, err
	}
	return slices.Clone(s.outputTensor.GetData()), nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		s.logger.Warn("failed to destroy ONNX environment", zap.Error(err))
	}
}
