package model

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Config locates the model artifact.
type Config struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	Sessions          int
}

// onnxEngine is one ONNX Runtime session with its own tensors.
type onnxEngine struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newONNXEngine(modelPath string, meta Metadata) (*onnxEngine, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxEngine{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (e *onnxEngine) Run(input []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, err
	}

	outputData := e.outputTensor.GetData()
	out := make([]float32, len(outputData))
	copy(out, outputData)
	return out, nil
}

func (e *onnxEngine) Close() error {
	return errors.Join(e.session.Destroy(), e.inputTensor.Destroy(), e.outputTensor.Destroy())
}

// Load reads the metadata, opens cfg.Sessions ONNX sessions over the model
// and returns the ready Service. Every failure is a *LoadError.
func Load(cfg Config, logger *zap.Logger) (*Service, error) {
	meta, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: cfg.ModelPath, Err: errors.New("model path is a directory")}
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to initialize ONNX environment: %w", err)}
	}

	sessions := max(cfg.Sessions, 1)
	engines := make([]Engine, 0, sessions)
	for i := 0; i < sessions; i++ {
		engine, err := newONNXEngine(cfg.ModelPath, meta)
		if err != nil {
			for _, e := range engines {
				e.Close()
			}
			ort.DestroyEnvironment()
			return nil, &LoadError{Path: cfg.ModelPath, Err: err}
		}
		engines = append(engines, engine)
	}

	svc, err := NewService(meta, logger, engines...)
	if err != nil {
		for _, e := range engines {
			e.Close()
		}
		ort.DestroyEnvironment()
		return nil, err
	}
	svc.release = ort.DestroyEnvironment

	logger.Info("model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Strings("classes", meta.Classes),
		zap.Int64s("input_shape", meta.InputShape),
		zap.Int("sessions", sessions))
	return svc, nil
}
