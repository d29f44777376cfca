package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hqtrade.com/internal/backtest"
	"hqtrade.com/internal/config"
	"hqtrade.com/internal/infra"
	"hqtrade.com/internal/model"
	_ "hqtrade.com/internal/strategies" // 注册内置策略
)

var (
	className string
	paramsStr string
	symbol    string
	interval  string
	limit     int
	rangesStr string
	target    string
	gaMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through a strategy and report performance",
	Long: `Backtest replays stored K-line data through a registered strategy class.

Examples:
  backtest run --symbol BTCUSDT --strategy DoubleMA --params '{"FastWindow":10}'
  backtest optimize --symbol BTCUSDT --ranges FastWindow=5:20:5,SlowWindow=20:60:10`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single backtest and print the report",
	RunE:  runBacktest,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search strategy params by grid or genetic algorithm",
	RunE:  runOptimize,
}

func init() {
	rootCmd.AddCommand(runCmd, optimizeCmd)

	for _, c := range []*cobra.Command{runCmd, optimizeCmd} {
		c.Flags().StringVarP(&className, "strategy", "s", "DoubleMA", "strategy class name")
		c.Flags().StringVar(&symbol, "symbol", "", "symbol to backtest (required)")
		c.Flags().StringVarP(&interval, "interval", "i", "1d", "bar interval")
		c.Flags().IntVar(&limit, "limit", 2000, "number of bars to load")
		c.MarkFlagRequired("symbol")
	}

	runCmd.Flags().StringVarP(&paramsStr, "params", "p", "{}", "strategy params as JSON")

	optimizeCmd.Flags().StringVar(&rangesStr, "ranges", "",
		"param ranges, e.g. FastWindow=5:20:5,SlowWindow=20:60:10 (required)")
	optimizeCmd.Flags().StringVar(&target, "target", "sharpe", "objective: sharpe, return or balance")
	optimizeCmd.Flags().BoolVar(&gaMode, "ga", false, "use the genetic algorithm instead of grid search")
	optimizeCmd.MarkFlagRequired("ranges")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadBars 连接数据库并加载回测用的历史 K 线
func loadBars(ctx context.Context) (backtest.Config, []model.Bar, error) {
	cfg := config.LoadConfig()

	pg, err := infra.NewPostgresClient(cfg.Database)
	if err != nil {
		return backtest.Config{}, nil, fmt.Errorf("connect database: %w", err)
	}
	barStore := infra.NewGormBarStore(pg.DB)

	bars, err := barStore.LoadBars(ctx, symbol, interval, limit)
	if err != nil {
		return backtest.Config{}, nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return backtest.Config{}, nil, fmt.Errorf("no bars found for %s %s", symbol, interval)
	}
	fmt.Printf("Loaded %d bars for %s %s\n", len(bars), symbol, interval)

	btCfg := backtest.Config{
		Symbol:         symbol,
		Interval:       interval,
		Capital:        cfg.Backtest.Capital,
		Slippage:       cfg.Backtest.Slippage,
		CommissionRate: cfg.Backtest.CommissionRate,
		Size:           cfg.Backtest.Size,
	}
	return btCfg, bars, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	btCfg, bars, err := loadBars(ctx)
	if err != nil {
		return err
	}

	eng := backtest.NewEngine(btCfg)
	if err := eng.AddStrategy(ctx, "backtest", className, json.RawMessage(paramsStr)); err != nil {
		return fmt.Errorf("add strategy: %w", err)
	}
	eng.SetBars(bars)

	report, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	printReport(report)
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	btCfg, bars, err := loadBars(ctx)
	if err != nil {
		return err
	}

	setting, err := parseRanges(rangesStr)
	if err != nil {
		return fmt.Errorf("bad --ranges: %w", err)
	}

	var objective backtest.Objective
	switch target {
	case "sharpe":
		objective = backtest.BySharpe
	case "return":
		objective = backtest.ByTotalReturn
	case "balance":
		objective = backtest.ByEndBalance
	default:
		return fmt.Errorf("unknown --target %q, want sharpe, return or balance", target)
	}

	opt := backtest.NewOptimizer(btCfg, className, bars, objective, 0)

	var trials []backtest.Trial
	if gaMode {
		trials, err = opt.RunGenetic(ctx, setting, backtest.GAConfig{})
	} else {
		trials, err = opt.RunGrid(ctx, setting)
	}
	if err != nil {
		return fmt.Errorf("optimization: %w", err)
	}

	fmt.Println("============ Optimization Result ============")
	for i, trial := range trials {
		if i >= 10 {
			break
		}
		params, _ := json.Marshal(trial.Params)
		fmt.Printf("#%2d  %s = %.4f  params %s\n", i+1, target, trial.Value, params)
	}
	fmt.Println("=============================================")
	return nil
}

func printReport(r *backtest.Report) {
	fmt.Println("============ Backtest Report ============")
	fmt.Printf("Bars:             %d\n", r.BarCount)
	fmt.Printf("Capital:          %.2f\n", r.Capital)
	fmt.Printf("End Balance:      %.2f\n", r.EndBalance)
	fmt.Printf("Total PnL:        %.2f\n", r.TotalPnL)
	fmt.Printf("Total Return:     %.2f%%\n", r.TotalReturn)
	fmt.Printf("Commission:       %.2f\n", r.TotalCommission)
	fmt.Printf("Max Drawdown:     %.2f (%.2f%%)\n", r.MaxDrawdown, r.MaxDrawdownPct)
	fmt.Printf("Sharpe Ratio:     %.2f\n", r.SharpeRatio)
	fmt.Printf("Trades:           %d (win %d / loss %d, win rate %.1f%%)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	fmt.Println("=========================================")
}

func parseRanges(spec string) (*backtest.OptimizationSetting, error) {
	setting := backtest.NewOptimizationSetting()
	for _, part := range strings.Split(spec, ",") {
		name, rng, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("bad range %q, want Name=start:end:step", part)
		}
		fields := strings.Split(rng, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("bad range %q, want Name=start:end:step", part)
		}
		start, err1 := strconv.ParseFloat(fields[0], 64)
		end, err2 := strconv.ParseFloat(fields[1], 64)
		step, err3 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("bad range %q: numeric start:end:step required", part)
		}
		setting.AddRange(name, start, end, step)
	}
	return setting, nil
}
