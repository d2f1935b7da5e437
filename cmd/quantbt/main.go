package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quantbt/internal/backtest"
	"quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/market"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configPath   = flag.String("config", "configs/config.yaml", "配置文件路径")
		strategyPath = flag.String("strategy", "", "策略配置文件路径(留空使用内置低波动配置)")
		startDate    = flag.String("start", "", "回测开始日期 (YYYY-MM-DD, 留空从数据起点开始)")
		endDate      = flag.String("end", "", "回测结束日期 (YYYY-MM-DD, 留空到数据终点为止)")
		outputPath   = flag.String("output", "", "完整结果JSON输出路径(留空只打印摘要)")
		quiet        = flag.Bool("quiet", false, "关闭进度输出")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	// 批量模式只把警告以上写到stderr, 摘要走stdout
	logCfg := logger.DefaultConfig
	logCfg.Level = logger.LevelWarn
	logCfg.Format = logger.FormatText
	logCfg.Output = "stderr"
	logger.SetGlobalLogger(logger.NewLogger(logCfg))

	strategy := config.DefaultStrategyConfig()
	if *strategyPath != "" {
		strategy, err = config.LoadStrategyConfig(*strategyPath)
		if err != nil {
			log.Fatalf("加载策略配置失败: %v", err)
		}
	}

	start, err := parseDate(*startDate)
	if err != nil {
		log.Fatalf("开始日期无效: %v", err)
	}
	end, err := parseDate(*endDate)
	if err != nil {
		log.Fatalf("结束日期无效: %v", err)
	}

	// Ctrl-C中断回测
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataset, err := market.NewLoader(cfg.Data).Load(ctx)
	if err != nil {
		log.Fatalf("加载行情数据失败: %v", err)
	}
	fmt.Printf("行情数据集: %d只标的, %d个交易日, %d只被剔除\n",
		len(dataset.Instruments), len(dataset.Calendar()), len(dataset.Excluded))

	engine, err := backtest.NewEngine(strategy, dataset)
	if err != nil {
		log.Fatalf("创建回测引擎失败: %v", err)
	}
	if !*quiet {
		engine.Progress = func(done, total int, date time.Time) {
			fmt.Printf("\r回测进度: %d/%d (%s)", done, total, date.Format(dateLayout))
		}
	}

	result, err := engine.RunBetween(ctx, start, end)
	if !*quiet {
		fmt.Println()
	}
	if err != nil {
		log.Fatalf("回测运行失败: %v", err)
	}

	printSummary(result)

	if *outputPath != "" {
		if err := writeResult(*outputPath, result); err != nil {
			log.Fatalf("写入结果失败: %v", err)
		}
		fmt.Printf("完整结果已写入 %s\n", *outputPath)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func printSummary(result *backtest.Result) {
	m := result.Metrics

	fmt.Println()
	fmt.Printf("策略 %s  %s ~ %s  (%d个交易日)\n",
		result.Strategy,
		result.StartDate.Format(dateLayout),
		result.EndDate.Format(dateLayout),
		result.Periods,
	)
	fmt.Println("--------------------------------------------")
	fmt.Printf("初始资金        %14.2f\n", result.InitialCapital)
	fmt.Printf("期末净值        %14.2f\n", result.FinalEquity)
	fmt.Printf("总收益率        %13.2f%%\n", m.TotalReturn*100)
	fmt.Printf("年化收益率      %13.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("年化波动率      %13.2f%%\n", m.Volatility*100)
	fmt.Printf("最大回撤        %13.2f%%  (%d个交易日)\n", m.MaxDrawdown*100, m.MaxDrawdownDuration)
	fmt.Printf("夏普比率        %14.2f\n", m.SharpeRatio)
	fmt.Printf("索提诺比率      %14.2f\n", m.SortinoRatio)
	fmt.Printf("卡玛比率        %14.2f\n", m.CalmarRatio)
	fmt.Printf("信息比率        %14.2f\n", m.InformationRatio)
	fmt.Println("--------------------------------------------")
	fmt.Printf("成交笔数        %14d\n", m.TotalTrades)
	fmt.Printf("胜率            %13.2f%%\n", m.WinRate*100)
	fmt.Printf("盈亏比          %14.2f\n", m.ProfitFactor)
	fmt.Printf("平均持仓天数    %14.1f\n", m.AvgPositionDays)
	fmt.Printf("年化换手率      %14.2f\n", m.TurnoverRate)
}

func writeResult(path string, result *backtest.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
