// Package cmd provides the harvester command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"harvester/bootstrap"
	"harvester/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

const (
	maxPayloadFileSize = 16 * 1024 * 1024
	defaultTimeout     = 5 * time.Minute
)

// NewRootCmd creates the harvester command with all subcommands
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "harvester",
		Short: "FIM inventory harvester",
		Long: `Harvester turns file integrity monitoring events (deltas, synchronization
messages and control messages) into index documents and publishes them to the
configured indexer.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newEncodeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newDLQCmd())

	return rootCmd
}

// loadCLIConfig loads the configuration with a quiet logger for one-shot commands
func loadCLIConfig() (*config.Config, *zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	cfg, err := bootstrap.InitConfig(configFile, sugar)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sugar, nil
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
