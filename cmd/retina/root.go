package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var logger zerolog.Logger

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "retina",
		Short: "Export detection modules to ONNX and validate the graphs",
		Long: `Retina exports eager detection modules (NMS, RoI pooling, RPN,
Faster R-CNN heads) to ONNX and checks the exported graphs against the
eager reference, on the built-in executor and optionally on ONNX Runtime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd.Flags(), cfgFile); err != nil {
				return err
			}
			return setupLogger(viper.GetString("log-level"))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default retina.yaml in cwd)")
	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().Int64("seed", 42, "seed for scenario weights and inputs")
	cmd.PersistentFlags().String("ort-lib", "", "path to the onnxruntime shared library")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newInfoCmd())

	return cmd
}

// loadConfig wires flags, environment and an optional config file into
// viper. Flags win over environment, environment wins over the file.
func loadConfig(flags *pflag.FlagSet, cfgFile string) error {
	if err := viper.BindPFlags(flags); err != nil {
		return err
	}
	viper.SetEnvPrefix("RETINA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("retina")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setupLogger(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}
