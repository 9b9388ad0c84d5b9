package validate

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/retina-ml/retina/internal/nn"
	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// Options configures a validation run.
type Options struct {
	Export onnx.ExportOptions

	RTol float64
	ATol float64
	// MismatchFraction is the share of elements allowed outside tolerance
	// per output before the run fails.
	MismatchFraction float64

	// Engines to execute the exported model on. Defaults to the native
	// executor only.
	Engines []Engine

	Logger zerolog.Logger
}

// DefaultOptions returns the standard validation configuration.
func DefaultOptions() Options {
	return Options{
		Export:           onnx.DefaultExportOptions(),
		RTol:             DefaultRTol,
		ATol:             DefaultATol,
		MismatchFraction: DefaultMismatchFraction,
		Engines:          []Engine{NativeEngine{}},
		Logger:           zerolog.Nop(),
	}
}

// RunReport records one engine execution over one input set.
type RunReport struct {
	Engine   string
	InputSet int
	Outputs  []Result
}

// Report summarizes a validation run.
type Report struct {
	ModelBytes int
	Runs       []RunReport
}

// Run exports the module traced on the first input set, executes it on
// every engine with every input set, and compares against the module's
// eager outputs. The first tolerance violation fails the run.
func Run(m nn.Module, inputSets [][]*tensor.RawTensor, opts Options) (*Report, error) {
	if len(inputSets) == 0 {
		return nil, fmt.Errorf("validate: no input sets")
	}
	if len(opts.Engines) == 0 {
		opts.Engines = []Engine{NativeEngine{}}
	}

	blob, err := onnx.Export(m, inputSets[0], opts.Export)
	if err != nil {
		return nil, fmt.Errorf("validate: export: %w", err)
	}
	opts.Logger.Debug().Int("bytes", len(blob)).Msg("model exported")

	report := &Report{ModelBytes: len(blob)}
	for si, inputs := range inputSets {
		want, err := m.Forward(inputs)
		if err != nil {
			return nil, fmt.Errorf("validate: reference forward on set %d: %w", si, err)
		}

		for _, eng := range opts.Engines {
			got, err := eng.Run(blob, inputs)
			if err != nil {
				return nil, fmt.Errorf("validate: %s on set %d: %w", eng.Name(), si, err)
			}
			if len(got) != len(want) {
				return nil, fmt.Errorf("validate: %s on set %d: %d outputs, want %d",
					eng.Name(), si, len(got), len(want))
			}

			run := RunReport{Engine: eng.Name(), InputSet: si}
			for oi := range want {
				res, err := Compare(got[oi], want[oi], opts.RTol, opts.ATol)
				if err != nil {
					return nil, fmt.Errorf("validate: %s set %d output %d: %w", eng.Name(), si, oi, err)
				}
				opts.Logger.Debug().
					Str("engine", eng.Name()).
					Int("set", si).
					Int("output", oi).
					Str("result", res.String()).
					Msg("compared output")
				if !res.Within(opts.MismatchFraction) {
					return nil, fmt.Errorf("validate: %s set %d output %d: %s",
						eng.Name(), si, oi, res)
				}
				run.Outputs = append(run.Outputs, res)
			}
			report.Runs = append(report.Runs, run)
		}
	}
	return report, nil
}
