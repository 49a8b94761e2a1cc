// Package backtest replays historical klines through the strategy engine on
// a paper exchange.
package backtest

import (
	"context"
	"dca-bot-go/internal/exchange"
	"dca-bot-go/internal/models"
	"dca-bot-go/internal/notification"
	"dca-bot-go/internal/strategy"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoData is returned when a kline file has no rows.
var ErrNoData = errors.New("no kline data")

// Bar is one kline reduced to what the replay needs.
type Bar struct {
	Time  time.Time
	Close decimal.Decimal
}

// LoadBars reads a kline CSV written by the downloader. Columns are located
// by header name so extra columns are ignored.
func LoadBars(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBars(f)
}

// ReadBars parses kline CSV from r.
func ReadBars(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	timeCol, closeCol := -1, -1
	for i, name := range header {
		switch name {
		case "open_time":
			timeCol = i
		case "close":
			closeCol = i
		}
	}
	if timeCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("kline header must contain open_time and close, got %v", header)
	}

	var bars []Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ms, err := strconv.ParseInt(record[timeCol], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: open_time: %w", line, err)
		}
		closePrice, err := decimal.NewFromString(record[closeCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: close: %w", line, err)
		}
		bars = append(bars, Bar{Time: time.UnixMilli(ms).UTC(), Close: closePrice})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

// Result summarises a replay.
type Result struct {
	Pair           models.CurrencyPair
	Start          time.Time
	End            time.Time
	InitialBalance decimal.Decimal
	State          models.BotRunState
	Trades         []exchange.PaperTrade
	EquityCurve    []decimal.Decimal
	QuoteBalance   decimal.Decimal
	BaseBalance    decimal.Decimal
	LastPrice      decimal.Decimal
	SkippedTicks   int
}

// Runner replays bars for one configuration.
type Runner struct {
	cfg      *models.Config
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner creates a Runner that ticks once per interval of replay time.
// A non-positive interval falls back to the configured tick interval.
func NewRunner(cfg *models.Config, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second
	}
	return &Runner{cfg: cfg, interval: interval, logger: logger}
}

// Run replays bars in order. Transient tick errors skip the tick, the same
// way a live bot would give up on it; other errors abort the replay.
func (r *Runner) Run(ctx context.Context, bars []Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	pair, err := models.ParsePair(r.cfg.Strategy.CurrencyPair)
	if err != nil {
		return nil, err
	}

	px := exchange.NewPaperExchange(pair, r.cfg.Paper)
	var clock time.Time
	notifier := notification.NewNotifier(r.logger, 0, notification.NewLogSink(r.logger))
	engine, err := strategy.NewEngine(r.cfg.BotID, r.cfg.Strategy, px, notifier, r.logger,
		strategy.WithClock(func() time.Time { return clock }))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Pair:           pair,
		Start:          bars[0].Time,
		End:            bars[len(bars)-1].Time,
		InitialBalance: r.cfg.Paper.InitialQuoteBalance,
	}
	state := models.NewBotRunState(r.cfg.BotID, pair.String(), bars[0].Time)
	nextTick := bars[0].Time

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock = bar.Time
		px.SetPrice(bar.Close, decimal.Zero, bar.Time)

		if !state.IsRunning() || bar.Time.Before(nextTick) {
			continue
		}
		for !bar.Time.Before(nextTick) {
			nextTick = nextTick.Add(r.interval)
		}

		next, err := engine.Tick(ctx, state)
		if err != nil {
			if exchange.IsTransient(err) {
				r.logger.Warn("tick skipped", zap.Time("time", bar.Time), zap.Error(err))
				result.SkippedTicks++
				continue
			}
			return nil, fmt.Errorf("tick at %s: %w", bar.Time.Format(time.RFC3339), err)
		}
		state = next
	}

	balances, err := px.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	result.State = state
	result.Trades = px.TradeLog
	result.EquityCurve = px.EquityCurve
	result.QuoteBalance = balances.Available(pair.Quote)
	result.BaseBalance = balances.Available(pair.Base)
	result.LastPrice = px.CurrentPrice()

	r.logger.Info("backtest finished",
		zap.Int64("ticks", state.TickCount),
		zap.String("status", string(state.Status)),
		zap.String("totalBuyOrderAmount", state.TotalBuyOrderAmount.String()))
	return result, nil
}
