package validate_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/retina-ml/retina/internal/fixture"
	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/validate"
)

const fixtureSeed = 42

// TestScenariosAgainstNativeEngine exports every fixture scenario and
// checks it against the eager reference on the built-in executor.
// Scenarios not marked tolerated run with a zero mismatch budget.
func TestScenariosAgainstNativeEngine(t *testing.T) {
	for _, sc := range fixture.Scenarios(fixtureSeed) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			opts := validate.DefaultOptions()
			opts.Export.GraphName = sc.Name
			opts.MismatchFraction = sc.MismatchBudget(validate.DefaultMismatchFraction)
			report, err := validate.Run(sc.Module, sc.InputSets, opts)
			if err != nil {
				t.Fatal(err)
			}
			if report.ModelBytes == 0 {
				t.Fatal("empty exported model")
			}
			wantRuns := len(sc.InputSets) * len(opts.Engines)
			if len(report.Runs) != wantRuns {
				t.Fatalf("runs = %d, want %d", len(report.Runs), wantRuns)
			}
		})
	}
}

// TestScenariosCarryTwoInputSets requires every scenario to validate on
// an input set beyond the one the graph was exported with, and pins the
// strict/tolerated split: only the proposal-ranking stages may tolerate
// mismatches.
func TestScenariosCarryTwoInputSets(t *testing.T) {
	tolerated := map[string]bool{"rpn": true, "roi_heads": true, "rcnn": true}
	for _, sc := range fixture.Scenarios(fixtureSeed) {
		if len(sc.InputSets) < 2 {
			t.Errorf("%s: %d input set(s), want at least 2", sc.Name, len(sc.InputSets))
		}
		if sc.Tolerated != tolerated[sc.Name] {
			t.Errorf("%s: Tolerated = %v, want %v", sc.Name, sc.Tolerated, tolerated[sc.Name])
		}
		if !sc.Tolerated && sc.MismatchBudget(0.5) != 0 {
			t.Errorf("%s: strict scenario must have a zero mismatch budget", sc.Name)
		}
	}
}

// TestScenarioExportsAreDeterministic re-exports each scenario and
// requires byte-identical output.
func TestScenarioExportsAreDeterministic(t *testing.T) {
	for _, sc := range fixture.Scenarios(fixtureSeed) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			opts := onnx.DefaultExportOptions()
			opts.GraphName = sc.Name
			a, err := onnx.Export(sc.Module, sc.InputSets[0], opts)
			if err != nil {
				t.Fatal(err)
			}
			b, err := onnx.Export(sc.Module, sc.InputSets[0], opts)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a, b) {
				t.Fatal("repeated export produced different bytes")
			}
		})
	}
}

// TestScenariosAgainstORT cross-checks against ONNX Runtime when the
// shared library is present; otherwise the test skips.
func TestScenariosAgainstORT(t *testing.T) {
	eng := validate.NewORTEngine(os.Getenv("ORT_LIBRARY_PATH"))
	if !eng.Available() {
		t.Skip("onnxruntime library not found; set ORT_LIBRARY_PATH to enable")
	}
	for _, sc := range fixture.Scenarios(fixtureSeed) {
		if sc.NativeOnly {
			continue
		}
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			opts := validate.DefaultOptions()
			opts.Export.GraphName = sc.Name
			opts.MismatchFraction = sc.MismatchBudget(validate.DefaultMismatchFraction)
			opts.Engines = []validate.Engine{validate.NativeEngine{}, eng}
			if _, err := validate.Run(sc.Module, sc.InputSets, opts); err != nil {
				t.Fatal(err)
			}
		})
	}
}
