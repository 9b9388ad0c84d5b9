package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// ORTEngine runs models on an ONNX Runtime shared library loaded at run
// time. The library path comes from the configuration or the
// ORT_LIBRARY_PATH environment variable.
type ORTEngine struct {
	LibraryPath string
	APIVersion  uint32
}

// NewORTEngine locates the runtime library. Returns an engine with an
// empty path when none is found; Available reports the outcome.
func NewORTEngine(libraryPath string) *ORTEngine {
	if libraryPath == "" {
		libraryPath = os.Getenv("ORT_LIBRARY_PATH")
	}
	if libraryPath == "" {
		for _, c := range []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		} {
			if _, err := os.Stat(c); err == nil {
				libraryPath = c
				break
			}
		}
	}
	return &ORTEngine{LibraryPath: libraryPath, APIVersion: 23}
}

// Available reports whether a runtime library was located.
func (e *ORTEngine) Available() bool {
	if e.LibraryPath == "" {
		return false
	}
	_, err := os.Stat(e.LibraryPath)
	return err == nil
}

// Name implements Engine.
func (e *ORTEngine) Name() string { return "onnxruntime" }

// Run implements Engine. The session API loads from a file path, so the
// blob goes through a temporary file.
func (e *ORTEngine) Run(blob []byte, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if !e.Available() {
		return nil, fmt.Errorf("onnxruntime library not available")
	}
	info, err := onnx.GetModelInfoFromBytes(blob)
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(info.InputNames) {
		return nil, fmt.Errorf("onnxruntime: model expects %d inputs, got %d", len(info.InputNames), len(inputs))
	}

	dir, err := os.MkdirTemp("", "retina-ort-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return nil, err
	}

	runtime, err := ort.NewRuntime(e.LibraryPath, e.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime: %w", err)
	}
	defer runtime.Close()

	env, err := runtime.NewEnv("retina", ort.LoggingLevelWarning)
	if err != nil {
		return nil, fmt.Errorf("ort env: %w", err)
	}
	defer env.Close()

	session, err := runtime.NewSession(env, path, nil)
	if err != nil {
		return nil, fmt.Errorf("ort session: %w", err)
	}
	defer session.Close()

	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer func() {
		for _, v := range ortInputs {
			if v != nil {
				v.Close()
			}
		}
	}()
	for i, t := range inputs {
		v, err := rawToORT(runtime, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", info.InputNames[i], err)
		}
		ortInputs[info.InputNames[i]] = v
	}

	ortOutputs, err := session.Run(context.Background(), ortInputs)
	if err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				v.Close()
			}
		}
	}()

	outs := make([]*tensor.RawTensor, len(info.OutputNames))
	for i, name := range info.OutputNames {
		v, ok := ortOutputs[name]
		if !ok {
			return nil, fmt.Errorf("ort run: missing output %q", name)
		}
		if outs[i], err = ortToRaw(v); err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
	}
	return outs, nil
}

func rawToORT(runtime *ort.Runtime, t *tensor.RawTensor) (*ort.Value, error) {
	shape := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		shape[i] = int64(d)
	}
	switch t.DType() {
	case tensor.Float32:
		return ort.NewTensorValue(runtime, t.AsFloat32(), shape)
	case tensor.Int64:
		return ort.NewTensorValue(runtime, t.AsInt64(), shape)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", t.DType())
	}
}

func ortToRaw(v *ort.Value) (*tensor.RawTensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, err
	}
	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return tensor.FromFloat32(data, toShape(shape))
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return tensor.FromInt64(data, toShape(shape))
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func toShape(dims []int64) tensor.Shape {
	s := make(tensor.Shape, len(dims))
	for i, d := range dims {
		s[i] = int(d)
	}
	return s
}
