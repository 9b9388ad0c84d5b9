package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retina-ml/retina/onnx"
)

func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <scenario>",
		Short: "Export a scenario's module to an .onnx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := selectScenarios(viper.GetInt64("seed"), args)
			if err != nil {
				return err
			}
			sc := scenarios[0]

			opts := onnx.DefaultExportOptions()
			opts.GraphName = sc.Name
			blob, err := onnx.Export(sc.Module, sc.InputSets[0], opts)
			if err != nil {
				return fmt.Errorf("export %s: %w", sc.Name, err)
			}

			path := output
			if path == "" {
				path = sc.Name + ".onnx"
			}
			if err := os.WriteFile(path, blob, 0o644); err != nil {
				return err
			}
			logger.Info().Str("scenario", sc.Name).Str("path", path).Int("bytes", len(blob)).Msg("model written")
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(blob))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <scenario>.onnx)")

	return cmd
}
