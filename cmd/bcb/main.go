package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/config"
	"github.com/daimatz/bytecodebuilder/pkg/lambda"
	"github.com/daimatz/bytecodebuilder/pkg/vm"
)

var rootCmd = &cobra.Command{
	Use:           "bcb",
	Short:         "Class-file builder and hidden-class adapter toolkit",
	Long:          `bcb inspects class files, runs them on an embedded VM and synthesizes lambda adapter classes`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath   string
	backendFlag  string
	logLevelFlag string
)

func main() {
	rootCmd.Version = Version

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(adaptCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to "+config.FileName+" (default: search upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "class encoder (model|visitor)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (debug|info|warn|error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration for cmd, applying flag overrides,
// and installs the resulting logger in every package that logs.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return config.Config{}, nil, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Build.Backend = backendFlag
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevelFlag
	}
	if _, err := cfg.Options(); err != nil {
		return config.Config{}, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("building logger: %w", err)
	}
	builder.SetLogger(log)
	lambda.SetLogger(log)
	vm.SetLogger(log)
	return cfg, log, nil
}
