package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run trading strategies against historical candles on a simulated exchange",
	Long: `Backtest replays historical candle data through a trading strategy on a
simulated exchange with order matching, leverage, fees, slippage and
margin calls.

It provides tools for:
  - Running a strategy over a candle range and reporting performance
  - Journaling closed positions and per-bar equity to CSV or SQLite
  - Generating a starter configuration file`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Local .env overrides are optional; a missing file is fine.
	_ = godotenv.Load()
}
