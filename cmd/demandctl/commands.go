package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/demandcast/cmd/forecaster/config"
	"github.com/HatiCode/demandcast/cmd/forecaster/logger"
	modelcfg "github.com/HatiCode/demandcast/cmd/forecaster/models"
	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/client"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/forecasting"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

// options are shared by every subcommand.
type options struct {
	server   string
	timeout  time.Duration
	series   string
	modelDir string
	logLevel string

	csvPath     string
	dateColumn  string
	valueColumn string
	filters     map[string]string
}

func newRootCmd() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "demandctl",
		Short: "Train and query daily demand forecasts",
		Long: `demandctl selects the best forecasting model for a daily series and
produces forecasts with it. Series are read from CSV files; columns are
detected by name (date/ds/day, units_sold/sales/quantity/close, ...) unless
given explicitly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.server, "server", "", "Forecaster base URL (e.g. http://localhost:8081); local mode when empty")
	flags.DurationVar(&o.timeout, "timeout", client.DefaultTimeout, "Request timeout in server mode")
	flags.StringVar(&o.series, "series", "sales", "Series name")
	flags.StringVar(&o.modelDir, "model-dir", "models", "Model directory in local mode")
	flags.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringVar(&o.csvPath, "csv", "", "CSV file with the history (- for stdin)")
	flags.StringVar(&o.dateColumn, "date-column", "", "CSV date column (auto-detected when empty)")
	flags.StringVar(&o.valueColumn, "value-column", "", "CSV value column (auto-detected when empty)")
	flags.StringToStringVar(&o.filters, "filter", nil, "Keep rows where column=value (repeatable)")

	rootCmd.AddCommand(trainCmd(o))
	rootCmd.AddCommand(forecastCmd(o))
	rootCmd.AddCommand(indicatorsCmd(o))
	rootCmd.AddCommand(snapshotCmd(o))

	return rootCmd
}

// trainCmd runs model selection and stores the winner
func trainCmd(o *options) *cobra.Command {
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Evaluate candidate models on a holdout and keep the best",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.loadSeries(ctx, cmd)
			if err != nil {
				return err
			}

			var resp forecastv1.TrainResponse
			if o.server != "" {
				r, err := o.client().Train(ctx, s)
				if err != nil {
					return fmt.Errorf("train: %w", err)
				}
				resp = *r
			} else {
				tc, err := modelcfg.TrainingConfig(cfg)
				if err != nil {
					return err
				}
				res, err := training.New(storage.NewFileStore(o.modelDir), tc, o.logger(cmd)).Train(ctx, s)
				if err != nil {
					return fmt.Errorf("train: %w", err)
				}
				resp = forecastv1.NewTrainResponse(res)
			}

			return writeTrain(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringSliceVar(&cfg.Candidates, "candidates", training.DefaultCandidates, "Candidate models in evaluation order")
	cmd.Flags().IntVar(&cfg.Holdout, "holdout", training.DefaultHoldout, "Trailing points held out for scoring")
	cmd.Flags().IntVar(&cfg.Lags, "lags", features.DefaultLags, "Lag features for the random forest")
	cmd.Flags().IntVar(&cfg.Trees, "trees", 100, "Trees in the random forest")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "Random seed")
	cmd.Flags().Float64Var(&cfg.IntervalWidth, "interval-width", 0.8, "Prediction interval width for models with bounds")
	cmd.Flags().BoolVar(&cfg.KeepCandidates, "keep-candidates", false, "Store every fitted candidate next to the winner")

	return cmd
}

// forecastCmd forecasts with the stored best model
func forecastCmd(o *options) *cobra.Command {
	var days int
	var format string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast the next days with the stored best model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := o.loadSeries(ctx, cmd)
			if err != nil {
				return err
			}

			var fc *models.Forecast
			if o.server != "" {
				resp, err := o.client().Forecast(ctx, s, days)
				if err != nil {
					return fmt.Errorf("forecast: %w", err)
				}
				if resp.Forecast == nil {
					return fmt.Errorf("forecast: %s", resp.Message)
				}
				fc = resp.Forecast
			} else {
				fc, err = forecasting.New(storage.NewFileStore(o.modelDir), o.logger(cmd)).Forecast(ctx, s, days)
				if err != nil {
					return fmt.Errorf("forecast: %w", err)
				}
			}

			return writeForecast(cmd.OutOrStdout(), *fc, format)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Days to forecast")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, csv or json")

	return cmd
}

// indicatorsCmd prints the stock indicator table
func indicatorsCmd(o *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "indicators",
		Short: "Compute moving averages, MACD, RSI and Bollinger bands for a price series",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := o.loadSeries(ctx, cmd)
			if err != nil {
				return err
			}

			var rows []features.IndicatorRow
			if o.server != "" {
				resp, err := o.client().Indicators(ctx, s)
				if err != nil {
					return fmt.Errorf("indicators: %w", err)
				}
				rows = resp.Rows
			} else {
				rows, err = features.Indicators(s)
				if err != nil {
					return fmt.Errorf("indicators: %w", err)
				}
			}

			return writeIndicators(cmd.OutOrStdout(), rows, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, csv or json")

	return cmd
}

// snapshotCmd fetches the scheduled forecast from a running forecaster
func snapshotCmd(o *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the latest scheduled forecast of a running forecaster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if o.server == "" {
				return errors.New("snapshot needs --server")
			}

			res, err := o.client().GetSnapshot(cmd.Context(), o.series)
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			if res.Stale {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: snapshot generated at %s is stale\n",
					res.Snapshot.GeneratedAt.Format(time.RFC3339))
			}
			return writeForecast(cmd.OutOrStdout(), res.Snapshot.Forecast, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, csv or json")

	return cmd
}

func (o *options) client() *client.ForecasterClient {
	return client.NewForecasterClientWithTimeout(o.server, o.timeout)
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	return logger.NewWithWriter(cmd.ErrOrStderr(), "text", o.logLevel)
}

// loadSeries reads the CSV history into a daily series.
func (o *options) loadSeries(ctx context.Context, cmd *cobra.Command) (timeseries.Series, error) {
	if o.csvPath == "" {
		return timeseries.Series{}, errors.New("--csv is required")
	}

	adapter := &adapters.CSVAdapter{
		Path:        o.csvPath,
		DateColumn:  o.dateColumn,
		ValueColumn: o.valueColumn,
	}
	if o.csvPath == "-" {
		adapter.Path = ""
		adapter.Reader = cmd.InOrStdin()
	}
	if len(o.filters) > 0 {
		adapter.Filters = make(map[string]string, len(o.filters))
		for col, want := range o.filters {
			adapter.Filters[strings.ToLower(col)] = want
		}
	}

	df, err := adapter.Collect(ctx, 0)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("read %s: %w", displayPath(o.csvPath), err)
	}
	s, err := features.NewBuilder().BuildSeries(o.series, *df)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("read %s: %w", displayPath(o.csvPath), err)
	}
	o.logger(cmd).Debug("series loaded", "series", s.Name, "points", s.Len())
	return s, nil
}

func displayPath(p string) string {
	if p == "-" {
		return os.Stdin.Name()
	}
	return p
}
