package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apellar/marketpulse/internal/domain/market"
	httpapi "github.com/apellar/marketpulse/internal/interfaces/http"
)

func newServeCmd(configPath, universePath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and evaluation loop",
		Long:  "Serves the read-only HTTP API and evaluates signals for every configured symbol on each timeframe tick.",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp(*configPath, *universePath, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handlers := httpapi.NewHandlers(a.engine, a.signals, a.backtests, a.snapshots, a.feed, a.cfg.Timeframe, a.log)
			server := httpapi.NewServer(httpapi.ServerConfig{
				Host:         a.cfg.HTTP.Host,
				Port:         a.cfg.HTTP.Port,
				ReadTimeout:  a.cfg.HTTP.ReadTimeout,
				WriteTimeout: a.cfg.HTTP.WriteTimeout,
				IdleTimeout:  a.cfg.HTTP.IdleTimeout,
			}, handlers, a.log)

			go a.evaluateLoop(ctx)
			return server.Start(ctx)
		},
	}
}

// evaluateLoop runs one evaluation pass per symbol every timeframe tick.
func (a *app) evaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Timeframe)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, symbol := range a.cfg.Symbols {
				if _, err := a.evaluator.EvaluateSignals(ctx, symbol, now.UTC()); err != nil {
					a.log.Warn().Err(err).Str("symbol", symbol).Msg("evaluation pass failed")
				}
			}
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIndicatorsCmd(configPath, universePath, logLevel *string) *cobra.Command {
	var hours int
	var session string

	cmd := &cobra.Command{
		Use:   "indicators <symbol>",
		Short: "Compute and print the indicator set for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := buildApp(*configPath, *universePath, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			sess, ok := market.ParseSession(session)
			if !ok {
				return fmt.Errorf("invalid session %q", session)
			}

			now := time.Now().UTC()
			window := market.Window{From: now.Add(-time.Duration(hours) * time.Hour), To: now}
			set, err := a.engine.ComputeIndicators(context.Background(), args[0], a.cfg.Timeframe, window, sess)
			if err != nil {
				return err
			}
			return printJSON(set)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 4, "lookback window in hours")
	cmd.Flags().StringVar(&session, "session", "", "restrict to a trading session (asia|london|new_york)")
	return cmd
}

func newSignalsCmd(configPath, universePath, logLevel *string) *cobra.Command {
	var hours int
	var symbol string

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List historical signals",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp(*configPath, *universePath, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			now := time.Now().UTC()
			window := market.Window{From: now.Add(-time.Duration(hours) * time.Hour), To: now}
			signals, err := a.signals.List(context.Background(), symbol, window)
			if err != nil {
				return err
			}
			if signals == nil {
				signals = []market.Signal{}
			}
			return printJSON(signals)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "lookback window in hours")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol (all when empty)")
	return cmd
}

func newBacktestCmd(configPath, universePath, logLevel *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "backtest <symbol>",
		Short: "Replay historical signals and print performance statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := buildApp(*configPath, *universePath, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.backtests.RunBacktest(context.Background(), args[0], days)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "backtest window in days")
	return cmd
}

func newSnapshotCmd(configPath, universePath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <symbol>",
		Short: "Print the operational metrics snapshot for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := buildApp(*configPath, *universePath, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			snap, err := a.snapshots.BuildSnapshot(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}
