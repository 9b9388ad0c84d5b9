package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retina-ml/retina/internal/fixture"
	"github.com/retina-ml/retina/validate"
)

func newCheckCmd() *cobra.Command {
	var (
		useORT   bool
		rtol     float64
		atol     float64
		mismatch float64
	)

	cmd := &cobra.Command{
		Use:   "check [scenario...]",
		Short: "Export scenarios and compare graph outputs against eager execution",
		Long: `Check exports each scenario's module to ONNX, runs the graph on the
built-in executor (and on ONNX Runtime with --ort), and compares every
output against the eager reference. With no arguments all scenarios run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := selectScenarios(viper.GetInt64("seed"), args)
			if err != nil {
				return err
			}

			engines := []validate.Engine{validate.NativeEngine{}}
			var ort *validate.ORTEngine
			if useORT {
				ort = validate.NewORTEngine(viper.GetString("ort-lib"))
				if !ort.Available() {
					return fmt.Errorf("onnxruntime library not found; pass --ort-lib or set RETINA_ORT_LIB")
				}
				engines = append(engines, ort)
			}

			failed := 0
			for _, sc := range scenarios {
				opts := validate.DefaultOptions()
				opts.Export.GraphName = sc.Name
				opts.RTol = rtol
				opts.ATol = atol
				opts.MismatchFraction = sc.MismatchBudget(mismatch)
				opts.Logger = logger
				opts.Engines = engines
				if sc.NativeOnly {
					opts.Engines = []validate.Engine{validate.NativeEngine{}}
				}

				report, err := validate.Run(sc.Module, sc.InputSets, opts)
				if err != nil {
					failed++
					logger.Error().Str("scenario", sc.Name).Err(err).Msg("check failed")
					continue
				}
				worst := 0.0
				for _, run := range report.Runs {
					for _, res := range run.Outputs {
						if res.MaxAbsDiff > worst {
							worst = res.MaxAbsDiff
						}
					}
				}
				logger.Info().
					Str("scenario", sc.Name).
					Int("model_bytes", report.ModelBytes).
					Int("runs", len(report.Runs)).
					Float64("max_abs_diff", worst).
					Msg("check passed")
				fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\t(%d bytes, %d runs)\n",
					sc.Name, report.ModelBytes, len(report.Runs))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&useORT, "ort", false, "also run exported graphs on ONNX Runtime")
	cmd.Flags().Float64Var(&rtol, "rtol", validate.DefaultRTol, "relative tolerance")
	cmd.Flags().Float64Var(&atol, "atol", validate.DefaultATol, "absolute tolerance")
	cmd.Flags().Float64Var(&mismatch, "mismatch", validate.DefaultMismatchFraction,
		"allowed fraction of elements outside tolerance for tolerated scenarios (strict scenarios always use 0)")

	return cmd
}

// selectScenarios resolves scenario names to fixtures, or returns all of
// them when names is empty.
func selectScenarios(seed int64, names []string) ([]fixture.Scenario, error) {
	all := fixture.Scenarios(seed)
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]fixture.Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}
	out := make([]fixture.Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (known: %s)", name, scenarioNames(all))
		}
		out = append(out, sc)
	}
	return out, nil
}

func scenarioNames(all []fixture.Scenario) string {
	s := ""
	for i, sc := range all {
		if i > 0 {
			s += ", "
		}
		s += sc.Name
	}
	return s
}
