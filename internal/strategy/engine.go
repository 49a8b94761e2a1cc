// Package strategy runs one dollar-cost averaging tick against an exchange.
package strategy

import (
	"context"
	"dca-bot-go/internal/budget"
	"dca-bot-go/internal/exchange"
	"dca-bot-go/internal/models"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier is the alert capability the engine needs.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// FillJournal records confirmed order results outside the run state.
type FillJournal interface {
	RecordFill(ctx context.Context, f models.Fill) error
}

// Engine executes ticks. It holds no run state of its own: the state is
// passed in and the updated value returned.
type Engine struct {
	botID       string
	cfg         models.StrategyConfig
	pair        models.CurrencyPair
	tracker     *budget.Tracker
	exchange    exchange.Exchange
	notifier    Notifier
	journal     FillJournal
	callTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithJournal records every order result in j.
func WithJournal(j FillJournal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithCallTimeout bounds every exchange call of a tick.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithClock replaces time.Now, used by backtests to stamp fills with replay time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine for a validated strategy configuration.
func NewEngine(botID string, cfg models.StrategyConfig, ex exchange.Exchange, notifier Notifier, logger *zap.Logger, opts ...Option) (*Engine, error) {
	pair, err := models.ParsePair(cfg.CurrencyPair)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		botID:       botID,
		cfg:         cfg,
		pair:        pair,
		tracker:     budget.NewTracker(cfg),
		exchange:    ex,
		notifier:    notifier,
		callTimeout: 10 * time.Second,
		logger:      logger.With(zap.String("bot", botID), zap.String("pair", pair.String())),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tracker exposes the budget tracker so the scheduler applies stops with the same rules.
func (e *Engine) Tracker() *budget.Tracker {
	return e.tracker
}

// Tick runs one tick. Budget and balance denials stop the bot and return a
// nil error. Infrastructure failures return the state unchanged together with
// the error; the engine never retries.
//
// An order already placed under this tick's client order id by an earlier
// attempt is settled before the balance gate, since its fill has already
// lowered the balance.
func (e *Engine) Tick(ctx context.Context, state models.BotRunState) (models.BotRunState, error) {
	if !state.IsRunning() {
		e.logger.Debug("bot is not running, skipping tick", zap.String("status", string(state.Status)))
		return state, nil
	}

	if dec := e.tracker.CheckBudget(state); !dec.Allowed {
		return e.stop(ctx, state, models.StatusStoppedBudgetExceeded, dec.Reason), nil
	}

	tick := state.TickCount + 1
	cid := state.ClientOrderID(tick)

	prior, err := e.lookup(ctx, cid)
	switch {
	case err == nil:
		e.logger.Info("order of an earlier attempt found, settling it",
			zap.Int64("tick", tick),
			zap.String("clientOrderID", cid),
			zap.String("status", prior.Status))
		return e.settlePrior(ctx, state, tick, prior)
	case !errors.Is(err, exchange.ErrOrderNotFound):
		return state, fmt.Errorf("lookup order: %w", err)
	}

	balances, err := e.getBalance(ctx)
	if err != nil {
		return state, fmt.Errorf("get balance: %w", err)
	}
	available := balances.Available(e.pair.Quote)
	if dec := e.tracker.CheckBalance(available); !dec.Allowed {
		return e.stop(ctx, state, models.StatusStoppedInsufficientBalance, dec.Reason), nil
	}

	ticker, err := e.quote(ctx)
	if err != nil {
		return state, err
	}

	req := BuildOrder(e.cfg, e.pair, ticker.Bid, cid)
	if err := req.Validate(); err != nil {
		return state, err
	}

	e.logger.Info("submitting buy order",
		zap.Int64("tick", tick),
		zap.String("bid", ticker.Bid.String()),
		zap.String("limitPrice", req.LimitPrice.String()),
		zap.String("quantity", req.Quantity.String()),
		zap.String("clientOrderID", req.ClientOrderID))

	result, err := e.submit(ctx, req)
	if errors.Is(err, exchange.ErrInsufficientFunds) {
		return e.stop(ctx, state, models.StatusStoppedInsufficientBalance, err.Error()), nil
	}
	if err != nil {
		return state, fmt.Errorf("submit order: %w", err)
	}

	return e.settle(ctx, state, tick, req, result, ticker.Bid)
}

// settlePrior records an order found by lookup. The current bid is only
// needed when the exchange did not report the spent quote amount.
func (e *Engine) settlePrior(ctx context.Context, state models.BotRunState, tick int64, result *models.OrderResult) (models.BotRunState, error) {
	var ref decimal.Decimal
	if result.FilledQuantity.IsPositive() && !result.FilledQuote.IsPositive() {
		ticker, err := e.quote(ctx)
		if err != nil {
			return state, err
		}
		ref = ticker.Bid
	}
	req := models.OrderRequest{Pair: e.pair, Side: models.Buy, ClientOrderID: result.ClientOrderID}
	return e.settle(ctx, state, tick, req, result, ref)
}

// settle applies a confirmed order result to the state. Fees charged in the
// base asset are deducted from the acquired quantity.
func (e *Engine) settle(ctx context.Context, state models.BotRunState, tick int64, req models.OrderRequest, result *models.OrderResult, ref decimal.Decimal) (models.BotRunState, error) {
	quote := result.QuoteValue(ref)
	base := result.FilledQuantity.Sub(result.Fee)
	if base.IsNegative() {
		base = decimal.Zero
	}
	next, err := e.tracker.RecordFill(state, quote, base)
	if err != nil {
		return state, err
	}
	next.LastOrderID = result.OrderID
	next.LastClientOrderID = result.ClientOrderID

	e.logger.Info("tick complete",
		zap.Int64("tick", next.TickCount),
		zap.String("status", result.Status),
		zap.String("filledQty", result.FilledQuantity.String()),
		zap.String("fee", result.Fee.String()),
		zap.String("filledQuote", quote.String()),
		zap.String("totalBuyOrderAmount", next.TotalBuyOrderAmount.String()))

	e.journalFill(ctx, tick, req, result, quote)
	return next, nil
}

// BuildOrder prices a quasi-market buy: the limit sits PriceMultiplier above
// the best bid and the quantity spends BuyAmountPerTick at the bid.
// Quantity is truncated so the order never spends more than one tick's amount.
func BuildOrder(cfg models.StrategyConfig, pair models.CurrencyPair, bid decimal.Decimal, clientOrderID string) models.OrderRequest {
	price := bid.Mul(cfg.PriceMultiplier).RoundCeil(cfg.PricePrecision)
	qty := cfg.BuyAmountPerTick.DivRound(bid, cfg.QtyPrecision+8).Truncate(cfg.QtyPrecision)
	return models.OrderRequest{
		Pair:          pair,
		Side:          models.Buy,
		LimitPrice:    price,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
	}
}

func (e *Engine) stop(ctx context.Context, state models.BotRunState, status models.Status, reason string) models.BotRunState {
	next := e.tracker.MarkStopped(state, status, reason)
	if next.Status == state.Status {
		return next
	}
	e.logger.Warn("bot stopped", zap.String("status", string(status)), zap.String("reason", reason))
	subject, body := StopMessage(e.botID, next)
	e.notifier.Notify(ctx, subject, body)
	return next
}

// StopMessage renders the alert sent when a bot reaches a terminal status.
func StopMessage(botID string, state models.BotRunState) (subject, body string) {
	switch state.Status {
	case models.StatusStoppedBudgetExceeded:
		subject = "Total buy order amount reached its limit"
	case models.StatusStoppedInsufficientBalance:
		subject = "Bot stopped: insufficient balance"
	default:
		subject = "Bot stopped"
	}
	body = fmt.Sprintf("Bot (ID:%s) on %s was stopped after %d ticks, total buy order amount %s.\nReason: %s",
		botID, state.Pair, state.TickCount, state.TotalBuyOrderAmount, state.StopReason)
	return subject, body
}

func (e *Engine) getBalance(ctx context.Context) (models.Balances, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.GetBalance(ctx)
}

func (e *Engine) getTicker(ctx context.Context) (*models.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.GetTicker(ctx, e.pair)
}

// quote returns a ticker with a positive bid.
func (e *Engine) quote(ctx context.Context) (*models.Ticker, error) {
	ticker, err := e.getTicker(ctx)
	if err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}
	if !ticker.Bid.IsPositive() {
		return nil, fmt.Errorf("%w: bid %s for %s", exchange.ErrNoQuote, ticker.Bid, e.pair)
	}
	return ticker, nil
}

func (e *Engine) lookup(ctx context.Context, clientOrderID string) (*models.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.LookupOrder(ctx, e.pair, clientOrderID)
}

func (e *Engine) submit(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.SubmitOrder(ctx, req)
}

func (e *Engine) journalFill(ctx context.Context, tick int64, req models.OrderRequest, result *models.OrderResult, quote decimal.Decimal) {
	if e.journal == nil {
		return
	}
	err := e.journal.RecordFill(ctx, models.Fill{
		BotID:          e.botID,
		ClientOrderID:  result.ClientOrderID,
		OrderID:        result.OrderID,
		Pair:           e.pair.String(),
		Side:           req.Side,
		Tick:           tick,
		LimitPrice:     req.LimitPrice,
		RequestedQty:   req.Quantity,
		FilledQuantity: result.FilledQuantity,
		FilledQuote:    quote,
		Status:         result.Status,
		CreatedAt:      e.now(),
	})
	if err != nil {
		e.logger.Error("failed to journal fill", zap.String("clientOrderID", result.ClientOrderID), zap.Error(err))
	}
}
