package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/backtest/backtest"
	"github.com/rustyeddy/backtest/config"
	"github.com/rustyeddy/backtest/feed"
	"github.com/rustyeddy/backtest/internal/logger"
	"github.com/rustyeddy/backtest/journal"
	"github.com/rustyeddy/backtest/strategies"
	"github.com/rustyeddy/backtest/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest from a configuration file",
	Long: `Run loads a configuration file, replays the configured candle range
through the configured strategy and prints the performance report.

Example:
  backtest run -c backtest.yaml
  backtest run -c backtest.yaml --strategy ema-cross --symbol BTC_USDT`,
	RunE: runBacktest,
}

var (
	runConfigPath string
	runSymbol     string
	runStrategy   string
	runLogLevel   string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "backtest.yaml", "path to configuration file")
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "override configured symbol")
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "", "override configured strategy")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "override configured log level")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}
	if runSymbol != "" {
		cfg.Backtest.Symbol = runSymbol
	}
	if runStrategy != "" {
		cfg.Strategy.Name = runStrategy
	}
	if runLogLevel != "" {
		cfg.LogLevel = runLogLevel
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	engine, closeFn, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := engine.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Print(res.String())
	return nil
}

// buildEngine wires the feed, strategy and optional journal from the
// configuration. The returned func closes whatever was opened.
func buildEngine(cfg *config.Config, log *zap.Logger) (*backtest.Engine, func(), error) {
	interval, err := cfg.Interval()
	if err != nil {
		return nil, nil, err
	}
	start, err := cfg.Start()
	if err != nil {
		return nil, nil, err
	}
	end, err := cfg.End()
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var src backtest.DataFeed
	switch cfg.Feed.Type {
	case "csv":
		src = feed.NewCSV(cfg.Feed.Path, interval)
	case "sqlite":
		f, err := feed.NewSQLite(cfg.Feed.Path, cfg.Backtest.Symbol, interval)
		if err != nil {
			return nil, nil, fmt.Errorf("feed: %w", err)
		}
		closers = append(closers, func() { f.Close() })
		src = f
	default:
		return nil, nil, fmt.Errorf("unknown feed type %q", cfg.Feed.Type)
	}

	strat, err := buildStrategy(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	engine := backtest.New(src, strat, backtest.Options{
		InitialCash:     cfg.Backtest.InitialCash,
		Symbol:          cfg.Backtest.Symbol,
		Interval:        interval,
		Start:           start,
		End:             end,
		WarmUpCandles:   cfg.Backtest.WarmUpCandles,
		FeeRate:         cfg.Exchange.FeeRate,
		Leverage:        cfg.Exchange.Leverage,
		MarginCallRatio: cfg.Exchange.MarginCallRatio,
		MatchStops:      cfg.Exchange.MatchStops,
		SlippageBound:   cfg.Exchange.SlippageBound,
		SlippageSeed:    cfg.Exchange.SlippageSeed,
	})
	engine.Log = log

	switch cfg.Journal.Type {
	case "":
	case "csv":
		j, err := journal.NewCSV(cfg.Journal.PositionsFile, cfg.Journal.StepsFile)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		closers = append(closers, func() { j.Close() })
		engine.Journal = j
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		closers = append(closers, func() { j.Close() })
		engine.Journal = j
	default:
		closeAll()
		return nil, nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}

	return engine, closeAll, nil
}

func buildStrategy(cfg *config.Config) (strategy.Strategy, error) {
	return strategies.ByName(cfg.Strategy.Name, strategies.Config{
		Symbol:     cfg.Backtest.Symbol,
		Quantity:   cfg.Strategy.Quantity,
		FastPeriod: cfg.Strategy.FastPeriod,
		SlowPeriod: cfg.Strategy.SlowPeriod,
		StopPct:    cfg.Strategy.StopPct,
		TakePct:    cfg.Strategy.TakePct,
	})
}
