package main

import (
	"context"
	"dca-bot-go/internal/backtest"
	"dca-bot-go/internal/bot"
	"dca-bot-go/internal/config"
	"dca-bot-go/internal/downloader"
	"dca-bot-go/internal/exchange"
	"dca-bot-go/internal/logger"
	"dca-bot-go/internal/models"
	"dca-bot-go/internal/notification"
	"dca-bot-go/internal/persistence"
	"dca-bot-go/internal/reporter"
	"dca-bot-go/internal/storage"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	dateLayout  = "2006-01-02"
	paperSuffix = "-paper"
)

var paperFlag = &cli.BoolFlag{Name: "paper", Usage: "operate on the paper trading bot"}

func main() {
	// 为了在加载配置时就能记录日志，先用默认配置初始化 logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	app := &cli.App{
		Name:  "dca-bot",
		Usage: "periodic dollar-cost averaging bot for Binance spot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.json",
				Usage:   "path to the config file (.json, .yaml or .yml)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the bot until its budget is spent or it is stopped",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Value: "live", Usage: "live or paper"},
					&cli.BoolFlag{Name: "stop-on-exit", Usage: "mark the bot STOPPED_MANUALLY on SIGINT/SIGTERM instead of leaving it resumable"},
				},
				Action: runCommand,
			},
			{
				Name:  "backtest",
				Usage: "replay historical klines through the strategy",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data", Usage: "path to a kline CSV file"},
					&cli.StringFlag{Name: "symbol", Usage: "symbol to download, e.g. BTCJPY"},
					&cli.StringFlag{Name: "start", Usage: "download start date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "end", Usage: "download end date (YYYY-MM-DD)"},
					&cli.DurationFlag{Name: "interval", Usage: "replay tick interval, defaults to the configured tick interval"},
				},
				Action: backtestCommand,
			},
			{
				Name:  "status",
				Usage: "print the persisted state and recent fills",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "fills", Value: 10, Usage: "number of recent fills to show"},
					paperFlag,
				},
				Action: statusCommand,
			},
			{
				Name:  "stop",
				Usage: "mark a bot that is not running as stopped",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "stopped by operator", Usage: "stop reason recorded in the state"},
					paperFlag,
				},
				Action: stopCommand,
			},
			{
				Name:   "reset",
				Usage:  "archive the current state and start a new run",
				Flags:  []cli.Flag{paperFlag},
				Action: resetCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.S().Fatal(err)
	}
	_ = logger.S().Sync()
}

// loadConfig 加载配置文件并用其中的日志配置重新初始化 logger
func loadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	logger.InitLogger(cfg.LogConfig)
	if c.Bool("paper") {
		cfg.BotID += paperSuffix
	}
	return cfg, nil
}

func openRepository(cfg *models.Config) (persistence.StateRepository, error) {
	if err := os.MkdirAll(cfg.DBPath, 0755); err != nil {
		return nil, err
	}
	return persistence.NewBadgerRepository(cfg.DBPath)
}

func openLedger(cfg *models.Config) (*storage.Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0755); err != nil {
		return nil, err
	}
	return storage.OpenLedger(cfg.LedgerPath)
}

// resolveBaseURL 根据配置设置API URL
func resolveBaseURL(cfg *models.Config) {
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		logger.S().Info("正在使用币安测试网...")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		logger.S().Info("正在使用币安生产网...")
	}
}

// buildNotifier 组装日志以及配置中启用的通知渠道
func buildNotifier(cfg *models.Config, creds *config.Credentials, log *zap.Logger) (*notification.Notifier, error) {
	sinks := []notification.Sink{notification.NewLogSink(log)}

	if cfg.Notification.SMTP.Enabled {
		smtpCfg := cfg.Notification.SMTP
		smtpCfg.Password = creds.SMTPPassword
		sink, err := notification.NewSMTPSink(smtpCfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Notification.Websocket.Enabled {
		sinks = append(sinks, notification.NewWebsocketSink(cfg.Notification.Websocket.URL, cfg.BotID))
	}

	timeout := time.Duration(cfg.Notification.TimeoutSeconds) * time.Second
	return notification.NewNotifier(log, timeout, sinks...), nil
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.L()

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}

	pair, err := models.ParsePair(cfg.Strategy.CurrencyPair)
	if err != nil {
		return err
	}

	resolveBaseURL(cfg)

	var ex exchange.Exchange
	switch mode := c.String("mode"); mode {
	case "live":
		logger.S().Info("--- 启动实时交易模式 ---")
		live, err := exchange.NewLiveExchange(creds.APIKey, creds.SecretKey, cfg.BaseURL,
			cfg.Exchange.RequestsPerSecond, cfg.Exchange.RecvWindowMs, log)
		if err != nil {
			return fmt.Errorf("初始化交易所失败: %w", err)
		}
		ex = live
	case "paper":
		logger.S().Info("--- 启动模拟交易模式 ---")
		paper := exchange.NewPaperExchange(pair, cfg.Paper)
		paper.SetQuoteSource(exchange.NewMarketData(cfg.BaseURL, cfg.Exchange.RequestsPerSecond, log))
		ex = paper
		// 模拟交易的状态与实盘分开保存
		cfg.BotID += paperSuffix
	default:
		return fmt.Errorf("未知的运行模式: %s。请选择 'live' 或 'paper'。", mode)
	}

	notifier, err := buildNotifier(cfg, creds, log)
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("无法打开状态数据库: %w", err)
	}
	defer repo.Close()

	ledger, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("无法打开成交记录数据库: %w", err)
	}
	defer ledger.Close()

	dcaBot, err := bot.NewDCABot(cfg, ex, repo, notifier, ledger, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case sig := <-quit:
			if c.Bool("stop-on-exit") {
				logger.S().Infof("收到信号 %s，停止机器人...", sig)
				dcaBot.RequestStop()
			} else {
				logger.S().Infof("收到信号 %s，退出，状态保留以便恢复...", sig)
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	if err := dcaBot.Run(ctx); err != nil {
		return err
	}
	logger.S().Info("机器人已退出。")
	return nil
}

func backtestCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.L()

	dataPath, err := resolveBacktestData(c, cfg, log)
	if err != nil {
		return err
	}

	bars, err := backtest.LoadBars(dataPath)
	if err != nil {
		return fmt.Errorf("无法读取历史数据文件: %w", err)
	}

	logger.S().Infof("开始回测, 共 %d 条K线...", len(bars))
	res, err := backtest.NewRunner(cfg, c.Duration("interval"), log).Run(c.Context, bars)
	if err != nil {
		return err
	}
	reporter.WriteBacktestReport(os.Stdout, res, dataPath)
	return nil
}

// resolveBacktestData 返回回测数据文件路径，需要时先下载K线
func resolveBacktestData(c *cli.Context, cfg *models.Config, log *zap.Logger) (string, error) {
	symbol, start, end := c.String("symbol"), c.String("start"), c.String("end")
	if symbol == "" || start == "" || end == "" {
		if c.String("data") == "" {
			return "", errors.New("回测模式需要通过 --data 或 --symbol/--start/--end 参数指定数据源")
		}
		return c.String("data"), nil
	}

	startTime, err1 := time.Parse(dateLayout, start)
	endTime, err2 := time.Parse(dateLayout, end)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式: %w", errors.Join(err1, err2))
	}

	path := c.String("data")
	if path == "" {
		path = filepath.Join("data", fmt.Sprintf("%s-%s-%s.csv", symbol, start, end))
	}
	d := downloader.NewKlineDownloader(cfg.LiveAPIURL, log)
	if err := d.DownloadKlines(c.Context, symbol, path, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return path, nil
}

func statusCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("无法打开状态数据库: %w", err)
	}
	defer repo.Close()

	state, err := repo.LoadState(cfg.BotID)
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Printf("bot %s has no saved state\n", cfg.BotID)
		return nil
	}

	var fills []models.Fill
	ledger, err := openLedger(cfg)
	if err != nil {
		logger.S().Warnf("无法打开成交记录数据库: %v", err)
	} else {
		defer ledger.Close()
		if fills, err = ledger.RecentFills(c.Context, cfg.BotID, c.Int("fills")); err != nil {
			logger.S().Warnf("读取成交记录失败: %v", err)
		}
		// 账本与状态中的累计金额不一致时提示, 以状态为准
		if total, err := ledger.TotalFilledQuote(c.Context, cfg.BotID, state.StartedAt); err == nil && !total.Equal(state.TotalBuyOrderAmount) {
			logger.S().Warnf("成交记录累计金额 %s 与状态中的 %s 不一致", total, state.TotalBuyOrderAmount)
		}
	}

	reporter.WriteStatus(os.Stdout, *state, fills)
	return nil
}

func stopCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("无法打开状态数据库 (机器人是否仍在运行?): %w", err)
	}
	defer repo.Close()

	state, err := bot.StopPersisted(repo, cfg, c.String("reason"), logger.L())
	if err != nil {
		return err
	}
	logger.S().Infof("bot %s status: %s", cfg.BotID, state.Status)
	return nil
}

func resetCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("无法打开状态数据库 (机器人是否仍在运行?): %w", err)
	}
	defer repo.Close()

	state, err := bot.ResetPersisted(repo, cfg, logger.L())
	if err != nil {
		return err
	}
	logger.S().Infof("bot %s reset, status: %s", cfg.BotID, state.Status)
	return nil
}
