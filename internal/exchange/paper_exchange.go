package exchange

import (
	"context"
	"dca-bot-go/internal/models"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PaperTrade 记录模拟交易所中的一笔成交
type PaperTrade struct {
	Time          time.Time
	ClientOrderID string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Quote         decimal.Decimal
	Fee           decimal.Decimal
}

// QuoteSource 为模拟交易提供实时行情
type QuoteSource interface {
	GetTicker(ctx context.Context, pair models.CurrencyPair) (*models.Ticker, error)
}

// PaperExchange 是一个模拟的交易所，用于模拟交易和回测。
// 订单按 IOC 规则以卖一价立即成交，限价低于卖一价时不成交。
type PaperExchange struct {
	mu sync.Mutex

	pair     models.CurrencyPair
	bid      decimal.Decimal
	ask      decimal.Decimal
	now      time.Time
	balances models.Balances
	feeRate  decimal.Decimal
	spread   decimal.Decimal

	// 单笔订单最多可成交的基础货币数量, 零表示不限
	liquidity decimal.Decimal

	orders      map[string]*models.OrderResult
	nextOrderID int64

	// 设置后每次 GetTicker 都从该来源刷新行情
	source QuoteSource

	TradeLog    []PaperTrade
	EquityCurve []decimal.Decimal
}

// NewPaperExchange 使用配置的初始计价货币余额创建模拟交易所
func NewPaperExchange(pair models.CurrencyPair, cfg models.PaperConfig) *PaperExchange {
	return &PaperExchange{
		pair: pair,
		balances: models.Balances{
			pair.Quote: cfg.InitialQuoteBalance,
			pair.Base:  decimal.Zero,
		},
		feeRate: cfg.FeeRate,
		spread:  cfg.Spread,
		orders:  make(map[string]*models.OrderResult),
	}
}

// SetPrice 更新模拟行情。ask 为零时按配置的价差由 bid 推出。
func (e *PaperExchange) SetPrice(bid, ask decimal.Decimal, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ask.IsZero() {
		ask = bid.Mul(decimal.NewFromInt(1).Add(e.spread))
	}
	e.bid = bid
	e.ask = ask
	e.now = timestamp
	e.EquityCurve = append(e.EquityCurve, e.equityLocked())
}

// SetQuoteSource 让模拟交易所跟随真实行情
func (e *PaperExchange) SetQuoteSource(src QuoteSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = src
}

// SetLiquidity 限制单笔订单的成交数量，用于模拟部分成交
func (e *PaperExchange) SetLiquidity(maxQty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liquidity = maxQty
}

// Deposit 增加某资产的余额
func (e *PaperExchange) Deposit(asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	asset = strings.ToUpper(asset)
	e.balances[asset] = e.balances.Available(asset).Add(amount)
}

// Equity 返回按买一价计算的账户总价值(计价货币)
func (e *PaperExchange) Equity() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked()
}

func (e *PaperExchange) equityLocked() decimal.Decimal {
	return e.balances.Available(e.pair.Quote).Add(e.balances.Available(e.pair.Base).Mul(e.bid))
}

// CurrentPrice 返回当前买一价
func (e *PaperExchange) CurrentPrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bid
}

// GetBalance 返回余额的副本
func (e *PaperExchange) GetBalance(ctx context.Context) (models.Balances, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(models.Balances, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out, nil
}

// GetTicker 返回当前模拟行情
func (e *PaperExchange) GetTicker(ctx context.Context, pair models.CurrencyPair) (*models.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if pair != e.pair {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPair, pair)
	}

	e.mu.Lock()
	src := e.source
	e.mu.Unlock()
	if src != nil {
		t, err := src.GetTicker(ctx, pair)
		if err != nil {
			return nil, err
		}
		e.SetPrice(t.Bid, t.Ask, t.Time)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bid.IsPositive() {
		return nil, fmt.Errorf("%w: price not set for %s", ErrNoQuote, pair)
	}
	return &models.Ticker{Pair: pair.String(), Bid: e.bid, Ask: e.ask, Last: e.bid, Time: e.now}, nil
}

// LookupOrder 返回此前以 clientOrderID 提交的订单结果
func (e *PaperExchange) LookupOrder(ctx context.Context, pair models.CurrencyPair, clientOrderID string) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if pair != e.pair {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPair, pair)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, clientOrderID)
	}
	out := *existing
	return &out, nil
}

// SubmitOrder 模拟 IOC 限价买单的撮合
func (e *PaperExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if req.Pair != e.pair {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPair, req.Pair)
	}
	if req.Side != models.Buy {
		return nil, fmt.Errorf("%w: only buy orders are supported", ErrRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.orders[req.ClientOrderID]; ok {
		result := *existing
		return &result, nil
	}

	e.nextOrderID++
	result := &models.OrderResult{
		OrderID:        strconv.FormatInt(e.nextOrderID, 10),
		ClientOrderID:  req.ClientOrderID,
		Status:         "EXPIRED",
		FilledQuantity: decimal.Zero,
		FilledQuote:    decimal.Zero,
		Fee:            decimal.Zero,
	}

	// 限价低于卖一价时 IOC 订单不会成交
	if req.LimitPrice.GreaterThanOrEqual(e.ask) && e.ask.IsPositive() {
		qty := req.Quantity
		if e.liquidity.IsPositive() && qty.GreaterThan(e.liquidity) {
			qty = e.liquidity
		}
		quote := qty.Mul(e.ask)
		if quote.GreaterThan(e.balances.Available(e.pair.Quote)) {
			return nil, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFunds, quote, e.pair.Quote, e.balances.Available(e.pair.Quote))
		}
		fee := qty.Mul(e.feeRate)

		e.balances[e.pair.Quote] = e.balances.Available(e.pair.Quote).Sub(quote)
		e.balances[e.pair.Base] = e.balances.Available(e.pair.Base).Add(qty).Sub(fee)

		result.FilledQuantity = qty
		result.FilledQuote = quote
		result.Fee = fee
		result.Status = "FILLED"
		if qty.LessThan(req.Quantity) {
			result.Status = "PARTIALLY_FILLED"
		}
		e.TradeLog = append(e.TradeLog, PaperTrade{
			Time:          e.now,
			ClientOrderID: req.ClientOrderID,
			Price:         e.ask,
			Quantity:      qty,
			Quote:         quote,
			Fee:           fee,
		})
	}

	e.orders[req.ClientOrderID] = result
	out := *result
	return &out, nil
}
