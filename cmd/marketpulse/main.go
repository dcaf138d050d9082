package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "marketpulse"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	var configPath string
	var universePath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market microstructure signal engine",
		Version: version,
		Long: `marketpulse derives order-flow indicators (CVD, open interest delta,
volume profile) from raw futures market data, scores trade setups on a
0-7 composite scale and replays historical signals to measure hit rate,
expectancy and drawdown.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")
	rootCmd.PersistentFlags().StringVar(&universePath, "universe", "", "path to legacy symbol universe YAML")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newServeCmd(&configPath, &universePath, &logLevel),
		newIndicatorsCmd(&configPath, &universePath, &logLevel),
		newSignalsCmd(&configPath, &universePath, &logLevel),
		newBacktestCmd(&configPath, &universePath, &logLevel),
		newSnapshotCmd(&configPath, &universePath, &logLevel),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Console output on a TTY, JSON
// otherwise.
func newLogger(level string) zerolog.Logger {
	var logger zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	return logger.Level(parsed)
}
