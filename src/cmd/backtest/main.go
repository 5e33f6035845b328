package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simtrade/engine/src/backtester"
	"github.com/simtrade/engine/src/eventpubsub"
	"github.com/simtrade/engine/src/execution"
	"github.com/simtrade/engine/src/risk"
	"github.com/simtrade/engine/src/strategy"
)

// FileConfig is the YAML shape of a backtest session config.
type FileConfig struct {
	Symbol         string  `yaml:"symbol"`
	Timeframe      string  `yaml:"timeframe"`
	InitialBalance float64 `yaml:"initial_balance"`
	StartDate      string  `yaml:"start_date"`
	EndDate        string  `yaml:"end_date"`
	ReplaySpeed    float64 `yaml:"replay_speed"`
	MaxHoldMinutes int     `yaml:"max_hold_minutes"`

	Strategy  strategy.Config   `yaml:"strategy"`
	Risk      *risk.Config      `yaml:"risk"`
	Execution *execution.Config `yaml:"execution"`
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}

func (c *FileConfig) ToDriverConfig() (backtester.Config, error) {
	startDate, err := parseDate(c.StartDate)
	if err != nil {
		return backtester.Config{}, fmt.Errorf("start_date: %w", err)
	}

	endDate, err := parseDate(c.EndDate)
	if err != nil {
		return backtester.Config{}, fmt.Errorf("end_date: %w", err)
	}

	riskConfig := risk.DefaultConfig()
	if c.Risk != nil {
		riskConfig = *c.Risk
	}

	executionConfig := execution.Config{}
	if c.Execution != nil {
		executionConfig = *c.Execution
	}

	return backtester.Config{
		Symbol:          c.Symbol,
		Timeframe:       c.Timeframe,
		InitialBalance:  c.InitialBalance,
		StartDate:       startDate,
		EndDate:         endDate,
		ReplaySpeed:     c.ReplaySpeed,
		MaxHoldDuration: time.Duration(c.MaxHoldMinutes) * time.Minute,
		Strategy:        c.Strategy,
		Risk:            riskConfig,
		Execution:       executionConfig,
	}, nil
}

type RunArgs struct {
	ConfigPath string
	CsvPath    string
}

var runCmd = &cobra.Command{
	Use:   "backtest --config config.yaml --csv candles.csv",
	Short: "Replay a rule-based strategy against historical candles",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			log.Fatalf("error getting config: %v", err)
		}

		csvPath, err := cmd.Flags().GetString("csv")
		if err != nil {
			log.Fatalf("error getting csv: %v", err)
		}

		if err := Run(RunArgs{ConfigPath: configPath, CsvPath: csvPath}); err != nil {
			log.Fatalf("Error: %v", err)
		}

		log.Info("Done")
	},
}

func Run(args RunArgs) error {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	eventpubsub.Init()

	configBytes, err := os.ReadFile(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var fileConfig FileConfig
	if err := yaml.Unmarshal(configBytes, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	driverConfig, err := fileConfig.ToDriverConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	driver, err := backtester.NewDriver(driverConfig)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}

	csvBytes, err := os.ReadFile(args.CsvPath)
	if err != nil {
		return fmt.Errorf("failed to read csv: %w", err)
	}

	if err := driver.LoadCSV(string(csvBytes)); err != nil {
		return fmt.Errorf("failed to load candles: %w", err)
	}

	result, err := driver.Start(context.Background())
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	printSummary(result)
	printTrades(result)

	return nil
}

func printSummary(result *backtester.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnSeparator("")

	rows := [][]string{
		{"Initial balance", fmt.Sprintf("%.2f", result.InitialBalance)},
		{"Final equity", fmt.Sprintf("%.2f", result.FinalEquity)},
		{"Total return", fmt.Sprintf("%.2f (%.2f%%)", result.TotalReturn, result.TotalReturnPct)},
		{"Max drawdown", fmt.Sprintf("%.2f (%.2f%%)", result.MaxDrawdown, result.MaxDrawdownPct)},
		{"Sharpe", fmt.Sprintf("%.3f", result.SharpeRatio)},
		{"Sortino", fmt.Sprintf("%.3f", result.SortinoRatio)},
		{"Calmar", fmt.Sprintf("%.3f", result.CalmarRatio)},
		{"Win rate", fmt.Sprintf("%.1f%%", result.WinRate)},
		{"Profit factor", fmt.Sprintf("%.3f", result.ProfitFactor)},
		{"Trades (win/lose/total)", fmt.Sprintf("%d / %d / %d", result.WinningTrades, result.LosingTrades, result.TotalTrades)},
		{"Time in market", fmt.Sprintf("%.1f%%", result.TimeInMarketPct)},
		{"Execution time", fmt.Sprintf("%d ms", result.ExecutionTimeMs)},
	}

	for _, row := range rows {
		table.Append(row)
	}

	fmt.Println("Backtest summary:")
	table.Render()
}

func printTrades(result *backtester.Result) {
	if len(result.Trades) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Side", "Entry", "Exit", "Qty", "Entry Px", "Exit Px", "PnL", "Reason"})

	for _, trade := range result.Trades {
		table.Append([]string{
			string(trade.Side),
			trade.EntryTime.Format("2006-01-02 15:04"),
			trade.ExitTime.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.6f", trade.Quantity),
			fmt.Sprintf("%.4f", trade.EntryPrice),
			fmt.Sprintf("%.4f", trade.ExitPrice),
			fmt.Sprintf("%.2f", trade.PnL),
			string(trade.ExitReason),
		})
	}

	fmt.Println("Trades:")
	table.Render()
}

func main() {
	runCmd.Flags().String("config", "", "path to the YAML session config")
	runCmd.Flags().String("csv", "", "path to the OHLCV csv file")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("csv")

	if err := runCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
