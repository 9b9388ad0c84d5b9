package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/retina-ml/retina/onnx"
)

func newInfoCmd() *cobra.Command {
	var listOps bool

	cmd := &cobra.Command{
		Use:   "info <model.onnx>",
		Short: "Print model metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := onnx.GetModelInfo(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ir_version:   %d\n", info.IRVersion)
			fmt.Fprintf(out, "opset:        %d\n", info.OpsetVersion)
			fmt.Fprintf(out, "producer:     %s %s\n", info.ProducerName, info.ProducerVersion)
			fmt.Fprintf(out, "inputs:       %s\n", strings.Join(info.InputNames, ", "))
			fmt.Fprintf(out, "outputs:      %s\n", strings.Join(info.OutputNames, ", "))
			fmt.Fprintf(out, "nodes:        %d\n", info.NodeCount)
			fmt.Fprintf(out, "initializers: %d\n", info.WeightCount)

			if listOps {
				fmt.Fprintf(out, "executor ops: %s\n", strings.Join(onnx.ListSupportedOps(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&listOps, "ops", false, "also list operators the built-in executor supports")

	return cmd
}
